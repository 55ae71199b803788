// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

// Package lifecycle groups long-running workers so the peer can start them
// together and shut them down in reverse order.
package lifecycle

import (
	"context"
	"errors"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Item is one named worker.
type Item struct {
	Name  string
	Run   func(ctx context.Context) error
	Close func() error
}

// Group runs and closes a set of items.
type Group struct {
	log   *zap.Logger
	items []Item
}

// NewGroup creates an empty group.
func NewGroup(log *zap.Logger) *Group {
	return &Group{log: log}
}

// Add registers an item. Items run in the order added and close in reverse.
func (group *Group) Add(item Item) {
	group.items = append(group.items, item)
}

// Run starts every item inside the errgroup. A context cancellation is not
// treated as a worker failure.
func (group *Group) Run(ctx context.Context, g *errgroup.Group) {
	for _, item := range group.items {
		item := item
		if item.Run == nil {
			continue
		}
		group.log.Debug("starting", zap.String("item", item.Name))
		g.Go(func() error {
			err := item.Run(ctx)
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			if err != nil {
				group.log.Error("unexpected exit",
					zap.String("item", item.Name), zap.Error(err))
			}
			return err
		})
	}
}

// Close closes all items in reverse order.
func (group *Group) Close() error {
	var errlist errs.Group
	for i := len(group.items) - 1; i >= 0; i-- {
		item := group.items[i]
		if item.Close == nil {
			continue
		}
		if err := item.Close(); err != nil {
			group.log.Error("close failed",
				zap.String("item", item.Name), zap.Error(err))
			errlist.Add(err)
		}
	}
	return errlist.Err()
}
