package models

import (
	"fmt"
	"time"
)

// Status represents the lifecycle state of a limit order.
type Status string

const (
	StatusSubmitting Status = "SUBMITTING"
	StatusNotTraded  Status = "NOTTRADED"
	StatusPartTraded Status = "PARTTRADED"
	StatusAllTraded  Status = "ALLTRADED"
	StatusCancelled  Status = "CANCELLED"
	StatusRejected   Status = "REJECTED"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusAllTraded, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// StopOrderStatus represents the lifecycle state of a stop order.
type StopOrderStatus string

const (
	StopOrderWaiting   StopOrderStatus = "WAITING"
	StopOrderTriggered StopOrderStatus = "TRIGGERED"
	StopOrderCancelled StopOrderStatus = "CANCELLED"
)

// OrderKind distinguishes the two order books of a symbol engine.
type OrderKind int

const (
	KindLimit OrderKind = iota + 1
	KindStop
)

func (k OrderKind) String() string {
	switch k {
	case KindLimit:
		return "LIMIT"
	case KindStop:
		return "STOP"
	}
	return "UNKNOWN"
}

// OrderHandle identifies an order in exactly one book of one symbol engine.
// The zero value refers to no order.
type OrderHandle struct {
	Kind     OrderKind
	VtSymbol string
	ID       int
}

// IsZero reports whether the handle refers to no order.
func (h OrderHandle) IsZero() bool {
	return h.Kind == 0
}

func (h OrderHandle) String() string {
	if h.Kind == KindStop {
		return fmt.Sprintf("STOP.%s.%d", h.VtSymbol, h.ID)
	}
	return fmt.Sprintf("%s.%d", h.VtSymbol, h.ID)
}

// Order represents a simulated limit order.
type Order struct {
	Symbol    string
	Exchange  Exchange
	OrderID   string
	Direction Direction
	Offset    Offset
	Price     float64
	Volume    float64
	Traded    float64
	Status    Status
	Datetime  time.Time
}

// VtSymbol returns the engine key of the order's instrument.
func (o Order) VtSymbol() string {
	return VtSymbol(o.Symbol, o.Exchange)
}

// IsActive reports whether the order can still be filled or cancelled.
func (o Order) IsActive() bool {
	return !o.Status.IsTerminal()
}

// StopOrder is a conditional order that becomes a filled Order once its
// trigger price is crossed.
type StopOrder struct {
	VtSymbol     string
	StopOrderID  string
	Direction    Direction
	Offset       Offset
	Price        float64
	Volume       float64
	Status       StopOrderStatus
	StrategyName string
	OrderIDs     []string
	Datetime     time.Time
}

// Clone returns a copy that shares no memory with s.
func (s StopOrder) Clone() StopOrder {
	if s.OrderIDs != nil {
		ids := make([]string, len(s.OrderIDs))
		copy(ids, s.OrderIDs)
		s.OrderIDs = ids
	}
	return s
}

// Trade is an immutable fill record.
type Trade struct {
	Symbol    string
	Exchange  Exchange
	OrderID   string
	TradeID   string
	Direction Direction
	Offset    Offset
	Price     float64
	Volume    float64
	Datetime  time.Time
}

// VtSymbol returns the engine key of the trade's instrument.
func (t Trade) VtSymbol() string {
	return VtSymbol(t.Symbol, t.Exchange)
}

// SignedVolume returns the position change caused by the trade.
func (t Trade) SignedVolume() float64 {
	if t.Direction == DirectionLong {
		return t.Volume
	}
	return -t.Volume
}
