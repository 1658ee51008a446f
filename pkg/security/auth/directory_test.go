package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoleDirectory_SetAndLookup(t *testing.T) {
	d := NewRoleDirectory()

	_, _, ok := d.Lookup("ghost")
	assert.False(t, ok)

	d.Set("alice", []string{"compliance_officer"}, []string{"read", "write", "export"})
	roles, perms, ok := d.Lookup("alice")
	assert.True(t, ok)
	assert.Equal(t, []string{"compliance_officer"}, roles)
	assert.Equal(t, []string{"read", "write", "export"}, perms)
}

func TestRoleDirectory_SetOverwritesPriorAssignment(t *testing.T) {
	d := NewRoleDirectory()
	d.Set("alice", []string{"read_only"}, []string{"read"})
	d.Set("alice", []string{"admin"}, []string{"read", "write", "admin"})

	roles, _, _ := d.Lookup("alice")
	assert.Equal(t, []string{"admin"}, roles)
}
