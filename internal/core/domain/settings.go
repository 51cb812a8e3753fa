package domain

import (
	"sort"
	"strings"
)

// =============================================================================
// Well-known Setting Keys
// =============================================================================

const (
	SettingRunFromPackage         = "WEBSITE_RUN_FROM_PACKAGE"
	SettingRunFromZip             = "WEBSITE_RUN_FROM_ZIP"
	SettingMountEnabled           = "WEBSITE_MOUNT_ENABLED"
	SettingWebJobsStorage         = "AzureWebJobsStorage"
	SettingContentFileConnection  = "WEBSITE_CONTENTAZUREFILECONNECTIONSTRING"
	SettingContentShare           = "WEBSITE_CONTENTSHARE"
	SettingScmRunFromPackage      = "SCM_RUN_FROM_PACKAGE"
	SettingScmDoBuild             = "SCM_DO_BUILD_DURING_DEPLOYMENT"
	SettingEnableOryxBuild        = "ENABLE_ORYX_BUILD"
	SettingBuildFlags             = "BUILD_FLAGS"
	SettingXDGCacheHome           = "XDG_CACHE_HOME"
	SettingFunctionsExtension     = "FUNCTIONS_EXTENSION_VERSION"
	SettingFunctionsWorkerRuntime = "FUNCTIONS_WORKER_RUNTIME"
	SettingWorkerRuntimeVersion   = "FUNCTIONS_WORKER_RUNTIME_VERSION"
)

// RemoteBuildSettings are the settings a Linux app-service target needs for a
// server-side build.
func RemoteBuildSettings() map[string]string {
	return map[string]string{
		SettingEnableOryxBuild: "true",
		SettingScmDoBuild:      "true",
		SettingBuildFlags:      "UseExpressBuild",
		SettingXDGCacheHome:    "/tmp/.cache",
	}
}

// =============================================================================
// Settings
// =============================================================================

// Settings is the live configuration map of a target.
// Keys compare case-insensitively through the helper methods; the exact key
// spelling of an existing entry is preserved when it is overwritten.
type Settings map[string]string

// Clone returns an independent copy.
func (s Settings) Clone() Settings {
	out := make(Settings, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// key returns the stored spelling of key, if any entry matches case-insensitively.
func (s Settings) key(key string) (string, bool) {
	if _, ok := s[key]; ok {
		return key, true
	}
	for k := range s {
		if strings.EqualFold(k, key) {
			return k, true
		}
	}
	return "", false
}

// Lookup returns the value stored under key, ignoring case.
func (s Settings) Lookup(key string) (string, bool) {
	k, ok := s.key(key)
	if !ok {
		return "", false
	}
	return s[k], true
}

// Has reports whether key is present, ignoring case.
func (s Settings) Has(key string) bool {
	_, ok := s.key(key)
	return ok
}

// Set stores value under key, reusing the spelling of an existing entry.
func (s Settings) Set(key, value string) {
	if k, ok := s.key(key); ok {
		s[k] = value
		return
	}
	s[key] = value
}

// Delete removes key, ignoring case. It reports whether anything was removed.
func (s Settings) Delete(key string) bool {
	k, ok := s.key(key)
	if !ok {
		return false
	}
	delete(s, k)
	return true
}

// SafeLeftMerge adds every pair from other whose key is absent or whose value
// differs. It reports whether s changed.
func (s Settings) SafeLeftMerge(other map[string]string) bool {
	changed := false
	for k, v := range other {
		if cur, ok := s.Lookup(k); ok && cur == v {
			continue
		}
		s.Set(k, v)
		changed = true
	}
	return changed
}

// RemoveIfValue removes each key of pairs whose current value equals the given
// value. It reports whether anything was removed.
func (s Settings) RemoveIfValue(pairs map[string]string) bool {
	removed := false
	for k, v := range pairs {
		if cur, ok := s.Lookup(k); ok && cur == v {
			s.Delete(k)
			removed = true
		}
	}
	return removed
}

// Keys returns the keys in sorted order.
func (s Settings) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
