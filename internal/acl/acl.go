// Package acl defines the closed set of capabilities a parent can hold
// over a child and the bitset used to carry them.
package acl

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// Capability names a single permission a grant may carry.
type Capability string

const (
	ViewTransactions      Capability = "view_transactions"
	Deposit               Capability = "deposit"
	Debit                 Capability = "debit"
	FreezeChild           Capability = "freeze_child"
	OfferCD               Capability = "offer_cd"
	EditTransaction       Capability = "edit_transaction"
	DeleteTransaction     Capability = "delete_transaction"
	AddRecurringCharge    Capability = "add_recurring_charge"
	EditRecurringCharge   Capability = "edit_recurring_charge"
	DeleteRecurringCharge Capability = "delete_recurring_charge"
	OfferLoan             Capability = "offer_loan"
	ManageLoan            Capability = "manage_loan"
	ManageWithdrawals     Capability = "manage_withdrawals"
	ManageChildSettings   Capability = "manage_child_settings"
)

// ErrUnknownCapability is returned when a name is outside the enumeration.
var ErrUnknownCapability = errors.New("unknown capability")

// order fixes the bit assigned to each capability. Append only.
var order = []Capability{
	ViewTransactions,
	Deposit,
	Debit,
	FreezeChild,
	OfferCD,
	EditTransaction,
	DeleteTransaction,
	AddRecurringCharge,
	EditRecurringCharge,
	DeleteRecurringCharge,
	OfferLoan,
	ManageLoan,
	ManageWithdrawals,
	ManageChildSettings,
}

var positions = func() map[Capability]uint {
	m := make(map[Capability]uint, len(order))
	for i, c := range order {
		m[c] = uint(i)
	}
	return m
}()

// Set is a bitset of capabilities.
type Set uint32

// All holds every known capability. Owners resolve to All.
var All = Of(order...)

// Capabilities returns the enumeration in its canonical order.
func Capabilities() []Capability {
	out := make([]Capability, len(order))
	copy(out, order)
	return out
}

// Valid reports whether name is a known capability.
func Valid(name string) bool {
	_, ok := positions[Capability(name)]
	return ok
}

// Of builds a set from known capabilities. Unknown values are ignored.
func Of(caps ...Capability) Set {
	var s Set
	for _, c := range caps {
		if pos, ok := positions[c]; ok {
			s |= 1 << pos
		}
	}
	return s
}

// Parse converts wire strings to a set, rejecting anything outside the enumeration.
func Parse(names []string) (Set, error) {
	var s Set
	for _, name := range names {
		pos, ok := positions[Capability(name)]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownCapability, name)
		}
		s |= 1 << pos
	}
	return s, nil
}

func (s Set) Has(c Capability) bool {
	pos, ok := positions[c]
	return ok && s&(1<<pos) != 0
}

// HasAll reports whether every capability in caps is present.
func (s Set) HasAll(caps ...Capability) bool {
	for _, c := range caps {
		if !s.Has(c) {
			return false
		}
	}
	return true
}

// HasAny reports whether at least one capability in caps is present.
func (s Set) HasAny(caps ...Capability) bool {
	for _, c := range caps {
		if s.Has(c) {
			return true
		}
	}
	return false
}

func (s Set) Union(other Set) Set {
	return s | other
}

// Names lists the capabilities in canonical order.
func (s Set) Names() []string {
	names := make([]string, 0, len(order))
	for _, c := range order {
		if s.Has(c) {
			names = append(names, string(c))
		}
	}
	return names
}

func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Names())
}

func (s *Set) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	parsed, err := Parse(names)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Value stores the set as a JSON array so the column stays readable.
func (s Set) Value() (driver.Value, error) {
	data, err := json.Marshal(s.Names())
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan reads a JSON array column. Unknown names fail the scan.
func (s *Set) Scan(value any) error {
	if value == nil {
		*s = 0
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("acl: cannot scan %T into Set", value)
	}

	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		return err
	}
	parsed, err := Parse(names)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
