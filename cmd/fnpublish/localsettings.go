package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/artpar/fnpublish/internal/core/deployment"
	"github.com/artpar/fnpublish/internal/core/domain"
)

// DefaultLocalSettingsFile is looked up in the project directory.
const DefaultLocalSettingsFile = "local.settings.env"

// ReadLocalSettings reads a dotenv file of app settings. Values may reference
// environment variables as ${NAME} or ${NAME:-default}; single-quote a value
// to keep the default syntax intact through the dotenv parser. A missing
// file yields an empty map and fs.ErrNotExist.
func ReadLocalSettings(path string) (map[string]string, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, err
		}
		return nil, fmt.Errorf("read local settings %s: %w", path, err)
	}
	return deployment.ExpandSettings(values, environ()), nil
}

// localWorkerRuntime returns the runtime named by the local settings, if any.
func localWorkerRuntime(settings map[string]string) string {
	v, _ := domain.Settings(settings).Lookup(domain.SettingFunctionsWorkerRuntime)
	return v
}

func environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}
