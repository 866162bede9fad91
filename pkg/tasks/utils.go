package tasks

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/adeverne/kiwiglider/pkg/deployment"
)

// GetFromEnv is a simple wrapper around os.Getenv that emits an error if a
// variable is not present in the environment.
func GetFromEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("Missing required environment variable: $%s", key)
	}

	return val, nil
}

// openDeployment resolves a named deployment under the data directory and
// loads its reviewed document.
func openDeployment(dataDir, name string) (*deployment.Deployment, *deployment.Config, error) {
	if name == "" {
		return nil, nil, errors.New("must provide a deployment name")
	}

	deploy := deployment.New(name, filepath.Join(dataDir, name))

	document, err := deployment.Load(deploy.ConfigPath())
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to load document for %s", name)
	}

	if document.Name() != name {
		return nil, nil, errors.Errorf("document under %s is for deployment '%s'", deploy.Root, document.Name())
	}

	return deploy, document, nil
}
