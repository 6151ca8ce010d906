package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// FingerprintComponents is the closed set of client-side signals carried next to a
// fingerprint hash. The server never recomputes the hash; it only stores and compares
// these values. HardwareHash is the browser-independent subset digest computed by the
// client (GPU/screen/CPU/RAM), which survives a browser switch on the same machine.
type FingerprintComponents struct {
	Canvas       string `json:"canvas,omitempty"`
	WebGL        string `json:"webgl,omitempty"`
	Audio        string `json:"audio,omitempty"`
	Screen       string `json:"screen,omitempty"`
	CPU          string `json:"cpu,omitempty"`
	RAM          string `json:"ram,omitempty"`
	Timezone     string `json:"tz,omitempty"`
	Platform     string `json:"platform,omitempty"`
	UserAgent    string `json:"ua,omitempty"`
	HardwareHash string `json:"hardware_hash,omitempty"`
}

// IsZero reports whether no signal is present at all.
func (c FingerprintComponents) IsZero() bool {
	return c == FingerprintComponents{}
}

// Value implements driver.Valuer so the components are stored as a JSON column.
func (c FingerprintComponents) Value() (driver.Value, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Scan implements sql.Scanner to hydrate the components from the database.
func (c *FingerprintComponents) Scan(value any) error {
	if value == nil {
		*c = FingerprintComponents{}
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return c.unmarshal(v)
	case string:
		return c.unmarshal([]byte(v))
	default:
		return fmt.Errorf("domain.FingerprintComponents: unsupported type %T", value)
	}
}

func (c *FingerprintComponents) unmarshal(data []byte) error {
	if len(data) == 0 {
		*c = FingerprintComponents{}
		return nil
	}
	return json.Unmarshal(data, c)
}
