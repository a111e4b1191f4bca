package giftcart

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/rafaeljc/giftrules/internal/catalog"
	"github.com/rafaeljc/giftrules/internal/ruleengine"
)

// memoryCart is an ordered in-memory Cart with failure injection.
type memoryCart struct {
	mu    sync.Mutex
	lines []ruleengine.LineItem
	seq   int

	itemsErr error
	addErr   error
	// addLeaksLine makes a failing Add leave the line behind and return its key.
	addLeaksLine bool
	removeErr    error
}

func newMemoryCart(lines ...ruleengine.LineItem) *memoryCart {
	return &memoryCart{lines: slices.Clone(lines)}
}

func (c *memoryCart) Items(_ context.Context) ([]ruleengine.LineItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.itemsErr != nil {
		return nil, c.itemsErr
	}
	return slices.Clone(c.lines), nil
}

func (c *memoryCart) Add(_ context.Context, item ruleengine.LineItem) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	item.Key = fmt.Sprintf("line-%d", c.seq)
	if c.addErr != nil {
		if c.addLeaksLine {
			c.lines = append(c.lines, item)
			return item.Key, c.addErr
		}
		return "", c.addErr
	}
	c.lines = append(c.lines, item)
	return item.Key, nil
}

func (c *memoryCart) Remove(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.removeErr != nil {
		return false, c.removeErr
	}
	for i, line := range c.lines {
		if line.Key == key {
			c.lines = slices.Delete(c.lines, i, i+1)
			return true, nil
		}
	}
	return false, nil
}

func (c *memoryCart) SetQuantity(_ context.Context, key string, qty int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.lines {
		if c.lines[i].Key == key {
			c.lines[i].Quantity = qty
			return nil
		}
	}
	return errors.New("line not found")
}

func (c *memoryCart) SetPrice(_ context.Context, key string, price decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.lines {
		if c.lines[i].Key == key {
			c.lines[i].Price = price
			c.lines[i].SalePrice = decimal.NewNullDecimal(price)
			c.lines[i].Tax = decimal.Zero
			return nil
		}
	}
	return errors.New("line not found")
}

func (c *memoryCart) snapshot() []ruleengine.LineItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.lines)
}

// staticProducts is a ProductLookup backed by a map.
type staticProducts map[int64]*catalog.Product

func (p staticProducts) Product(_ context.Context, id int64) (*catalog.Product, error) {
	product, ok := p[id]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	return product, nil
}

// recordingLedger remembers which orders were recorded.
type recordingLedger struct {
	mu     sync.Mutex
	orders map[string]map[int64]int
	calls  int
	err    error
}

func newRecordingLedger() *recordingLedger {
	return &recordingLedger{orders: make(map[string]map[int64]int)}
}

func (l *recordingLedger) RecordRedemptions(_ context.Context, orderID string, _ int64, counts map[int64]int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return false, l.err
	}
	if _, seen := l.orders[orderID]; seen {
		return false, nil
	}
	l.orders[orderID] = counts
	return true, nil
}

func publishedProduct(id int64) *catalog.Product {
	return &catalog.Product{ID: id, Status: catalog.StatusPublished, InStock: true, Price: decimal.NewFromInt(15)}
}

func giftLine(key string, ruleID, productID int64) ruleengine.LineItem {
	return ruleengine.LineItem{
		Key:       key,
		ProductID: productID,
		Quantity:  1,
		Gift:      &ruleengine.GiftTag{RuleID: ruleID, InstanceID: "inst-" + key},
	}
}

func regularLine(key string, productID int64, qty int) ruleengine.LineItem {
	return ruleengine.LineItem{Key: key, ProductID: productID, Quantity: qty, Price: decimal.NewFromInt(20)}
}

func offerFor(ruleID int64, allowed int, gifts ...int64) ruleengine.Eligibility {
	return ruleengine.Eligibility{
		ruleID: {Rule: ruleengine.Rule{ID: ruleID, Name: fmt.Sprintf("rule %d", ruleID), Gifts: gifts}, Gifts: gifts, Allowed: allowed},
	}
}

type countingRevisions struct {
	mu    sync.Mutex
	bumps int
	err   error
}

func (r *countingRevisions) Bump(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	r.bumps++
	return int64(r.bumps), nil
}
