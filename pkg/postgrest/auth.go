package postgrest

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/lawrencejones/supamigrate/pkg/migration"
)

// ServiceRole is the role claim of keys that bypass row level security.
const ServiceRole = "service_role"

// KeyClaims is what we can learn about a key without its signing secret.
type KeyClaims struct {
	Role      string
	Reference string
	ExpiresAt *time.Time
}

// InspectServiceKey reads the claims of a JWT-style key without verifying it, as only
// the server holds the secret. Keys that aren't JWTs (opaque secret keys) return nil
// claims and no error: the server is the only judge of those.
//
// An expired key is reported as an authentication failure, so we fail before making a
// request we know will be refused.
func InspectServiceKey(key string, now time.Time) (*KeyClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(key, claims); err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, nil
		}

		return nil, errors.Wrap(err, "failed to parse service key")
	}

	result := &KeyClaims{}
	if role, ok := claims["role"].(string); ok {
		result.Role = role
	}
	if ref, ok := claims["ref"].(string); ok {
		result.Reference = ref
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, errors.Wrap(err, "invalid exp claim on service key")
	}

	if exp != nil {
		expiresAt := exp.Time
		result.ExpiresAt = &expiresAt

		if now.After(expiresAt) {
			return result, &migration.RemoteCallFailure{
				Kind:    migration.AuthenticationError,
				Message: fmt.Sprintf("service key expired at %s", expiresAt.UTC().Format(time.RFC3339)),
			}
		}
	}

	return result, nil
}
