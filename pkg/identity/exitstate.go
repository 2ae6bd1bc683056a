package identity

import (
	"encoding/json"
	"fmt"
)

// ExitVerifMode mirrors the exit's configured admission verification mode.
// Billing never acts on this; it is only carried through ExitState so that
// JSON round-tripping matches the original wire format exactly
// (original_source/althea_types/src/lib.rs).
type ExitVerifMode string

const (
	ExitVerifOff   ExitVerifMode = "Off"
	ExitVerifEmail ExitVerifMode = "Email"
)

// ExitDetails is the exit-reported configuration embedded in the GotInfo and
// Pending ExitState variants.
type ExitDetails struct {
	ServerInternalIP string        `json:"server_internal_ip"`
	Netmask          uint8         `json:"netmask"`
	WgExitPort       uint16        `json:"wg_exit_port"`
	ExitPrice        uint64        `json:"exit_price"`
	Description      string        `json:"description"`
	VerifMode        ExitVerifMode `json:"verif_mode"`
}

// ExitState is a discriminated union over the exit registration handshake's
// states, decoded from a JSON object carrying a "state" tag
// (spec.md §6: `{"state": "New" | "GotInfo" | "Pending" | …, …fields}`,
// unknown fields ignored). Only one of the embedded fields is meaningful per
// Kind.
type ExitState struct {
	Kind ExitStateKind

	GeneralDetails ExitDetails
	Message        string
	AutoRegister   bool
	EmailCode      *string
}

type ExitStateKind string

const (
	ExitStateNew      ExitStateKind = "New"
	ExitStateGotInfo  ExitStateKind = "GotInfo"
	ExitStatePending  ExitStateKind = "Pending"
	ExitStateRegistered ExitStateKind = "Registered"
	ExitStateDenied   ExitStateKind = "Denied"
)

type exitStateWire struct {
	State          ExitStateKind `json:"state"`
	GeneralDetails *ExitDetails  `json:"general_details,omitempty"`
	Message        string        `json:"message,omitempty"`
	AutoRegister   bool          `json:"auto_register,omitempty"`
	EmailCode      *string       `json:"email_code,omitempty"`
}

func (s ExitState) MarshalJSON() ([]byte, error) {
	wire := exitStateWire{
		State:        s.Kind,
		Message:      s.Message,
		AutoRegister: s.AutoRegister,
		EmailCode:    s.EmailCode,
	}
	if s.Kind == ExitStateGotInfo || s.Kind == ExitStatePending {
		wire.GeneralDetails = &s.GeneralDetails
	}
	return json.Marshal(wire)
}

// UnmarshalJSON ignores unknown fields by construction: json.Unmarshal into
// exitStateWire only ever looks at the field names it declares.
func (s *ExitState) UnmarshalJSON(data []byte) error {
	var wire exitStateWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("identity: invalid ExitState: %w", err)
	}
	if wire.State == "" {
		return fmt.Errorf("identity: ExitState missing \"state\" discriminator")
	}
	s.Kind = wire.State
	s.Message = wire.Message
	s.AutoRegister = wire.AutoRegister
	s.EmailCode = wire.EmailCode
	if wire.GeneralDetails != nil {
		s.GeneralDetails = *wire.GeneralDetails
	}
	return nil
}
