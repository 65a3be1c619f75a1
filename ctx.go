package auth

import (
	"context"

	"github.com/goliatone/go-router"
)

var machineCtxKey = &contextKey{"session_machine"}
var userCtxKey = &contextKey{"user"}

// LocalsMachineKey is the request locals key holding the request's *Machine.
const LocalsMachineKey = "auth.session_machine"

type contextKey struct {
	name string
}

// WithMachine sets the session machine in the given context
func WithMachine(ctx context.Context, m *Machine) context.Context {
	return context.WithValue(ctx, machineCtxKey, m)
}

// MachineFromContext finds the session machine from the context.
func MachineFromContext(ctx context.Context) (*Machine, bool) {
	m, ok := ctx.Value(machineCtxKey).(*Machine)
	return m, ok && m != nil
}

// WithContext sets the User in the given context
func WithContext(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userCtxKey, user)
}

// FromContext finds the user from the context.
func FromContext(ctx context.Context) (*User, bool) {
	raw, ok := ctx.Value(userCtxKey).(*User)
	return raw, ok && raw != nil
}

// SetMachine stores m on the request.
func SetMachine(c router.Context, m *Machine) {
	c.Locals(LocalsMachineKey, m)
}

// GetMachine returns the session machine attached to the request.
func GetMachine(c router.Context) (*Machine, bool) {
	m, ok := c.Locals(LocalsMachineKey).(*Machine)
	return m, ok && m != nil
}

// GetSnapshot returns the session snapshot for the request. Requests
// without a machine read as signed out.
func GetSnapshot(c router.Context) Snapshot {
	if m, ok := GetMachine(c); ok {
		return m.Snapshot()
	}
	return Snapshot{Status: StatusUnauthenticated}
}

// GetUser returns the signed in user for the request.
func GetUser(c router.Context) (*User, bool) {
	snap := GetSnapshot(c)
	if !snap.IsAuthenticated || snap.User == nil {
		return nil, false
	}
	return snap.User, true
}
