package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncident_EmbeddingText(t *testing.T) {
	tests := []struct {
		name     string
		incident Incident
		expected string
	}{
		{
			name:     "short description and description",
			incident: Incident{ShortDescription: "VPN down", Description: "VPN connection timeout", Category: CategoryOther},
			expected: "VPN down VPN connection timeout",
		},
		{
			name:     "identical short description is not repeated",
			incident: Incident{ShortDescription: "VPN down", Description: " VPN down ", Category: CategoryOther},
			expected: "VPN down",
		},
		{
			name:     "known category is appended",
			incident: Incident{Description: "cannot send mail", Category: CategoryEmail},
			expected: "cannot send mail email",
		},
		{
			name:     "empty",
			incident: Incident{},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.incident.EmbeddingText())
		})
	}
}

func TestIncident_Clone(t *testing.T) {
	orig := &Incident{ID: "INC1", Embedding: []float32{1, 0}}
	c := orig.Clone()
	c.Embedding[0] = 5
	c.ID = "INC2"

	assert.Equal(t, float32(1), orig.Embedding[0])
	assert.Equal(t, "INC1", orig.ID)
}

func TestIncident_ResolutionHours(t *testing.T) {
	created := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

	i := &Incident{CreatedAt: created, ResolvedAt: created.Add(90 * time.Minute)}
	hours, ok := i.ResolutionHours()
	require.True(t, ok)
	assert.InDelta(t, 1.5, hours, 1e-9)

	_, ok = (&Incident{CreatedAt: created}).ResolutionHours()
	assert.False(t, ok)

	_, ok = (&Incident{CreatedAt: created, ResolvedAt: created.Add(-time.Hour)}).ResolutionHours()
	assert.False(t, ok)
}

func TestValidateIncident(t *testing.T) {
	valid := func() *Incident {
		return &Incident{
			ID:          "INC0010001",
			Description: "VPN connection timeout",
			Category:    CategoryNetwork,
			Source:      IncidentSourceManual,
		}
	}

	tests := []struct {
		name    string
		mutate  func(i *Incident)
		wantErr bool
		errMsg  string
	}{
		{name: "valid incident", mutate: func(i *Incident) {}},
		{name: "missing ID", mutate: func(i *Incident) { i.ID = " " }, wantErr: true, errMsg: "ID"},
		{name: "missing text", mutate: func(i *Incident) { i.Description = "" }, wantErr: true, errMsg: "description"},
		{name: "invalid category", mutate: func(i *Incident) { i.Category = "Printers" }, wantErr: true, errMsg: "Category"},
		{name: "invalid source", mutate: func(i *Incident) { i.Source = "csv" }, wantErr: true, errMsg: "Source"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i := valid()
			tt.mutate(i)
			err := ValidateIncident(i)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}

	assert.Error(t, ValidateIncident(nil))
}

func TestPriority_Number(t *testing.T) {
	tests := []struct {
		priority Priority
		want     int
		ok       bool
	}{
		{"1", 1, true},
		{"2 - High", 2, true},
		{" 4", 4, true},
		{"High", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.priority), func(t *testing.T) {
			n, ok := tt.priority.Number()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestPriority_JSON(t *testing.T) {
	var holder struct {
		P Priority `json:"p"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"p": 3}`), &holder))
	assert.Equal(t, Priority("3"), holder.P)

	require.NoError(t, json.Unmarshal([]byte(`{"p": "2 - High"}`), &holder))
	assert.Equal(t, Priority("2 - High"), holder.P)

	require.NoError(t, json.Unmarshal([]byte(`{"p": null}`), &holder))
	assert.Equal(t, Priority(""), holder.P)

	assert.Error(t, json.Unmarshal([]byte(`{"p": 1.5}`), &holder))
	assert.Error(t, json.Unmarshal([]byte(`{"p": true}`), &holder))

	out, err := json.Marshal(Priority("3"))
	require.NoError(t, err)
	assert.Equal(t, "3", string(out))

	out, err = json.Marshal(Priority("2 - High"))
	require.NoError(t, err)
	assert.Equal(t, `"2 - High"`, string(out))
}

func TestNormalizeCategory(t *testing.T) {
	tests := []struct {
		raw  string
		want Category
	}{
		{"Network", CategoryNetwork},
		{"  VPN ", CategoryNetwork},
		{"Inquiry / Help", CategoryInquiry},
		{"inquiry   /  help", CategoryInquiry},
		{"E-Mail", CategoryEmail},
		{"Password Reset", CategoryAccess},
		{"printer", CategoryHardware},
		{"Quantum flux", CategoryOther},
		{"", CategoryOther},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeCategory(tt.raw))
		})
	}
}

func TestCategories_AllValid(t *testing.T) {
	for _, c := range Categories() {
		assert.True(t, isValidCategory(c), c)
		assert.Equal(t, c, NormalizeCategory(string(c)))
	}
}
