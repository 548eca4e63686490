// Package approval sends the interactive approval request for a new ledger
// row and applies the decision when a button is clicked.
package approval

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Identifiers of the interactive elements.
const (
	ActionsBlockID = "receipt_approval_actions"
	ApproveID      = "btn_approve"
	RejectID       = "btn_reject"
)

// Token is the button value. It names the row by its evidence link because
// row numbers change when the sheet is sorted or edited.
type Token struct {
	Action    string `json:"action"`
	SheetName string `json:"sheetName"`
	FileURL   string `json:"fileUrl"`
}

func (t Token) Encode() string {
	b, _ := json.Marshal(t)
	return string(b)
}

// ParseToken decodes a button value.
func ParseToken(value string) (Token, error) {
	var t Token
	if err := json.Unmarshal([]byte(value), &t); err != nil {
		return Token{}, fmt.Errorf("decode approval token: %w", err)
	}
	if t.SheetName == "" || t.FileURL == "" {
		return Token{}, errors.New("approval token lacks sheet or file url")
	}
	return t, nil
}
