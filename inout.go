package kiln

import (
	"github.com/junioryono/kiln/internal/reflection"
)

// In marks a parameter object. When a constructor takes a single struct, or a
// pointer to one, embedding In, every exported field of that struct is
// resolved as a dependency instead of the struct itself.
//
// Field tags adjust each field:
//
//   - `optional:"true"` or `inject:"optional"` - the zero value is used when
//     nothing can produce the field's key
//   - `name:"primary"` - the field's key carries the Named("primary") qualifier
//   - `inject:"-"` - the field is left alone
//
// Example:
//
//	type ServiceParams struct {
//	    kiln.In
//
//	    Database *sql.DB `name:"primary"`
//	    Logger   Logger  `optional:"true"`
//	}
//
//	func NewService(p ServiceParams) *Service {
//	    return &Service{db: p.Database, logger: p.Logger}
//	}
//
// In must be embedded anonymously:
//
//	type ServiceParams struct {
//	    kiln.In  // ✓ Correct - anonymous embedding
//	}
//
//	type ServiceParams struct {
//	    In kiln.In  // ✗ Wrong - named field
//	}
type In = reflection.In
