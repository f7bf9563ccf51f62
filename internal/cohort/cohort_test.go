package cohort

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	t.Parallel()
	r := NewResolver([]Rule{
		{Cohort: "groupe1", Roles: []string{"Developper Web", "PGE"}},
		{Cohort: "groupe2", Roles: []string{"Data&AI", "Marketing"}},
	})

	tests := []struct {
		name   string
		roles  []string
		cohort string
		ok     bool
	}{
		{name: "first rule", roles: []string{"@everyone", "PGE"}, cohort: "groupe1", ok: true},
		{name: "second rule", roles: []string{"Marketing"}, cohort: "groupe2", ok: true},
		{name: "case and spaces", roles: []string{"  data&ai "}, cohort: "groupe2", ok: true},
		{name: "first rule wins", roles: []string{"Marketing", "Developper Web"}, cohort: "groupe1", ok: true},
		{name: "no match", roles: []string{"Staff"}, ok: false},
		{name: "no roles", roles: nil, ok: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := r.Resolve(tt.roles)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.cohort, got)
		})
	}
}
