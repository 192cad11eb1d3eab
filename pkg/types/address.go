package types

import (
	"fmt"
	"strings"
)

// Address is the shipping address snapshot stored on an order.
type Address struct {
	FullName   string  `json:"fullName" validate:"required"`
	Phone      string  `json:"phone" validate:"required"`
	Line1      string  `json:"line1" validate:"required"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city" validate:"required"`
	State      string  `json:"state" validate:"required"`
	PostalCode string  `json:"postalCode,omitempty"`
	Country    string  `json:"country"`
}

// Normalize trims the free-text fields and defaults the country.
func (a Address) Normalize() Address {
	a.FullName = strings.TrimSpace(a.FullName)
	a.Phone = strings.TrimSpace(a.Phone)
	a.Line1 = strings.TrimSpace(a.Line1)
	a.City = strings.TrimSpace(a.City)
	a.State = strings.TrimSpace(a.State)
	a.PostalCode = strings.TrimSpace(a.PostalCode)
	a.Country = strings.ToUpper(strings.TrimSpace(a.Country))
	if a.Country == "" {
		a.Country = "NG"
	}
	if a.Line2 != nil {
		line2 := strings.TrimSpace(*a.Line2)
		if line2 == "" {
			a.Line2 = nil
		} else {
			a.Line2 = &line2
		}
	}
	return a
}

func (a Address) Validate() error {
	switch {
	case a.Line1 == "":
		return fmt.Errorf("address: missing line1")
	case a.City == "":
		return fmt.Errorf("address: missing city")
	case a.State == "":
		return fmt.Errorf("address: missing state")
	}
	return nil
}
