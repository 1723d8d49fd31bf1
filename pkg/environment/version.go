package environment

import (
	"github.com/openfroyo/daqconf/pkg/dal"
)

// ConfigVersion returns the configuration version the process was started
// with.
func ConfigVersion(getenv Lookup) (string, error) {
	if v, ok := getenv(EnvDBVersion); ok {
		return v, nil
	}
	return "", dal.NewNotFoundError(`The environment variable "`+EnvDBVersion+`" needs to be defined`, nil).
		WithCode(dal.ErrCodeNoConfigVersion)
}
