package schema

import "fmt"

// Settings describes the farm. Every field is always populated once resolved.
type Settings struct {
	FarmName    string `json:"farmName"`
	ManagerName string `json:"managerName"`
	Location    string `json:"location"`
	Currency    string `json:"currency"`
}

// DefaultSettings returns the settings used when none are stored.
func DefaultSettings() Settings {
	return Settings{
		FarmName:    "My Farm",
		ManagerName: "Farm Manager",
		Location:    "Green Valley",
		Currency:    "$",
	}
}

// IsDefault reports whether s equals DefaultSettings.
func (s Settings) IsDefault() bool {
	return s == DefaultSettings()
}

// Validate checks that every field is non-empty.
func (s Settings) Validate() error {
	if s.FarmName == "" {
		return fmt.Errorf("farm name is required")
	}
	if s.ManagerName == "" {
		return fmt.Errorf("manager name is required")
	}
	if s.Location == "" {
		return fmt.Errorf("location is required")
	}
	if s.Currency == "" {
		return fmt.Errorf("currency symbol is required")
	}
	return nil
}

// Patch returns a patch that sets every field of s.
func (s Settings) Patch() *SettingsPatch {
	return &SettingsPatch{
		FarmName:    &s.FarmName,
		ManagerName: &s.ManagerName,
		Location:    &s.Location,
		Currency:    &s.Currency,
	}
}

// Apply shallow-merges p into s. Nil fields leave s unchanged.
func (s Settings) Apply(p *SettingsPatch) Settings {
	if p == nil {
		return s
	}
	if p.FarmName != nil {
		s.FarmName = *p.FarmName
	}
	if p.ManagerName != nil {
		s.ManagerName = *p.ManagerName
	}
	if p.Location != nil {
		s.Location = *p.Location
	}
	if p.Currency != nil {
		s.Currency = *p.Currency
	}
	return s
}

// SettingsPatch is a partial Settings record. A nil field is absent.
type SettingsPatch struct {
	FarmName    *string `json:"farmName,omitempty"`
	ManagerName *string `json:"managerName,omitempty"`
	Location    *string `json:"location,omitempty"`
	Currency    *string `json:"currency,omitempty"`
}

// IsEmpty reports whether the patch carries no fields.
func (p *SettingsPatch) IsEmpty() bool {
	return p == nil || (p.FarmName == nil && p.ManagerName == nil && p.Location == nil && p.Currency == nil)
}

// Fields returns the present fields keyed by their JSON names.
func (p *SettingsPatch) Fields() map[string]string {
	out := make(map[string]string, 4)
	if p == nil {
		return out
	}
	if p.FarmName != nil {
		out["farmName"] = *p.FarmName
	}
	if p.ManagerName != nil {
		out["managerName"] = *p.ManagerName
	}
	if p.Location != nil {
		out["location"] = *p.Location
	}
	if p.Currency != nil {
		out["currency"] = *p.Currency
	}
	return out
}

// PatchFromFields builds a patch from JSON-named fields. Unknown keys are ignored.
func PatchFromFields(fields map[string]string) *SettingsPatch {
	p := &SettingsPatch{}
	for k, v := range fields {
		v := v
		switch k {
		case "farmName":
			p.FarmName = &v
		case "managerName":
			p.ManagerName = &v
		case "location":
			p.Location = &v
		case "currency":
			p.Currency = &v
		}
	}
	return p
}
