package domain

import (
	"fmt"
	"strings"
)

type RecipientRole string

const (
	RecipientBusiness RecipientRole = "BUSINESS"
	RecipientMember   RecipientRole = "MEMBER"
)

// Recipient identifica al dueño de una conexión de notificaciones.
// Negocios y miembros tienen espacios de ids distintos, por eso el rol es parte de la clave.
type Recipient struct {
	Role RecipientRole `json:"role"`
	ID   int64         `json:"id"`
}

func BusinessRecipient(id int64) Recipient {
	return Recipient{Role: RecipientBusiness, ID: id}
}

func MemberRecipient(id int64) Recipient {
	return Recipient{Role: RecipientMember, ID: id}
}

// ParseRecipientRole normaliza el rol recibido en los claims.
func ParseRecipientRole(raw string) (RecipientRole, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BUSINESS", "ROLE_BUSINESS":
		return RecipientBusiness, true
	case "MEMBER", "USER", "ROLE_USER":
		return RecipientMember, true
	default:
		return "", false
	}
}

func (r Recipient) Valid() bool {
	return r.ID > 0 && (r.Role == RecipientBusiness || r.Role == RecipientMember)
}

func (r Recipient) String() string {
	return fmt.Sprintf("%s:%d", strings.ToLower(string(r.Role)), r.ID)
}
