package models

// CartOwner identifies whose cart a request operates on: a guest session
// before login, a user afterwards. It is resolved once at the request boundary.
type CartOwner struct {
	userID    string
	sessionID string
}

// GuestOwner returns the owner for an anonymous session.
func GuestOwner(sessionID string) CartOwner {
	return CartOwner{sessionID: sessionID}
}

// UserOwner returns the owner for an authenticated user.
func UserOwner(userID string) CartOwner {
	return CartOwner{userID: userID}
}

func (o CartOwner) IsUser() bool { return o.userID != "" }

func (o CartOwner) IsZero() bool { return o.userID == "" && o.sessionID == "" }

func (o CartOwner) UserID() string { return o.userID }

func (o CartOwner) SessionID() string { return o.sessionID }

// Owns reports whether cart belongs to this owner.
func (o CartOwner) Owns(cart *Cart) bool {
	if cart == nil {
		return false
	}
	if o.IsUser() {
		return cart.UserID != nil && *cart.UserID == o.userID
	}
	return o.sessionID != "" && cart.SessionID != nil && *cart.SessionID == o.sessionID
}
