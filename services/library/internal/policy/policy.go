// Package policy decides what a set of roles may do. It is a pure table so
// routing, CLI and tests all consult the same rules.
package policy

import (
	"slices"

	"github.com/Fabian0270/library-system/pkg/domain"
)

type Operation string

const (
	OpBookRead      Operation = "book.read"
	OpBookWrite     Operation = "book.write"
	OpAuthorRead    Operation = "author.read"
	OpAuthorWrite   Operation = "author.write"
	OpLoanRead      Operation = "loan.read"
	OpLoanCreate    Operation = "loan.create"
	OpLoanReturn    Operation = "loan.return"
	OpLoanExtend    Operation = "loan.extend"
	OpLoanListAll   Operation = "loan.list_all"
	OpLoanOverdue   Operation = "loan.overdue"
	OpUserLoans     Operation = "user.loans"
	OpUserAdmin     Operation = "user.admin"
	OpAuditRead     Operation = "audit.read"
	OpAuditExport   Operation = "audit.export"
	OpProfile       Operation = "profile"
	OpSessionManage Operation = "session.manage"
)

var (
	anyMember = []domain.UserRole{domain.RoleUser, domain.RoleAdmin}
	adminOnly = []domain.UserRole{domain.RoleAdmin}
)

var table = map[Operation][]domain.UserRole{
	OpBookRead:      anyMember,
	OpBookWrite:     adminOnly,
	OpAuthorRead:    anyMember,
	OpAuthorWrite:   adminOnly,
	OpLoanRead:      anyMember,
	OpLoanCreate:    anyMember,
	OpLoanReturn:    anyMember,
	OpLoanExtend:    anyMember,
	OpLoanListAll:   adminOnly,
	OpLoanOverdue:   adminOnly,
	OpUserLoans:     anyMember,
	OpUserAdmin:     adminOnly,
	OpAuditRead:     adminOnly,
	OpAuditExport:   adminOnly,
	OpProfile:       anyMember,
	OpSessionManage: anyMember,
}

// Allowed reports whether any of roles grants op. Unknown operations are denied.
func Allowed(roles []domain.UserRole, op Operation) bool {
	granted, ok := table[op]
	if !ok {
		return false
	}
	for _, role := range roles {
		if slices.Contains(granted, role) {
			return true
		}
	}
	return false
}

// CanActForUser reports whether actor may read or change data owned by userID.
func CanActForUser(actor domain.User, userID string) bool {
	return actor.ID == userID || actor.HasRole(domain.RoleAdmin)
}

// CanActOnLoan reports whether actor may view, return or extend loan.
func CanActOnLoan(actor domain.User, loan domain.Loan) bool {
	return CanActForUser(actor, loan.UserID)
}
