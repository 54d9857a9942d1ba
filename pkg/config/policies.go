package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// PolicyFile is the on-disk rate-limit policy override.
//
//	policies:
//	  auth:
//	    max_requests: 5
//	    window: 15m
//	  read:
//	    max_requests: 200
//	    window: 1m
type PolicyFile struct {
	Policies map[string]PolicySpec `yaml:"policies"`
}

// PolicySpec overrides one named policy
type PolicySpec struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// LoadPolicyFile reads and validates a policy file
func LoadPolicyFile(path string) (*PolicyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParsePolicyFile(data)
}

// ParsePolicyFile decodes and validates policy YAML
func ParsePolicyFile(data []byte) (*PolicyFile, error) {
	var pf PolicyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}
	for name, pol := range pf.Policies {
		if pol.MaxRequests < 1 {
			return nil, fmt.Errorf("policy %s: max_requests must be positive", name)
		}
		if pol.Window <= 0 {
			return nil, fmt.Errorf("policy %s: window must be positive", name)
		}
	}
	return &pf, nil
}

// WatchPolicies reloads the policy file whenever it changes and hands the
// result to onChange. Parse failures go to onError and keep the previous
// policies in force. The watch stops when ctx is done.
func WatchPolicies(ctx context.Context, path string, onChange func(*PolicyFile), onError func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	// Watch the directory: editors and config-map mounts replace the file
	// rather than writing it in place.
	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				pf, err := LoadPolicyFile(target)
				if err != nil {
					onError(err)
					continue
				}
				onChange(pf)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				onError(err)
			}
		}
	}()

	return nil
}
