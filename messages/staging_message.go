package messages

import (
	"sync"

	"cloudfoundry.org/cf-staging/settings"
)

// StagingMessage is a request to stage a package into a droplet.
type StagingMessage struct {
	PackageGUID string

	memoryLimit interface{}
	diskLimit   interface{}
	stack       interface{}

	err    error
	config settings.Staging

	stackOnce     sync.Once
	resolvedStack string
}

// NewStagingMessage never fails: a body that cannot be parsed yields a message whose
// Validate reports the parse error. A body that is valid JSON but not an object is
// treated as an empty request.
func NewStagingMessage(packageGUID string, body []byte, config settings.Staging) *StagingMessage {
	m := &StagingMessage{
		PackageGUID: packageGUID,
		config:      config,
	}

	opts, _, err := decodeObject(body)
	if err != nil {
		m.err = err
		return m
	}

	m.memoryLimit = opts["memory_limit"]
	m.diskLimit = opts["disk_limit"]
	m.stack = opts["stack"]
	return m
}

func (m *StagingMessage) Validate() (bool, []string) {
	if m.err != nil {
		return false, []string{m.err.Error()}
	}

	var errs []string
	if m.memoryLimit != nil {
		if msg := integerError("memory_limit", m.memoryLimit); msg != "" {
			errs = append(errs, msg)
		}
	}
	if m.diskLimit != nil {
		if msg := integerError("disk_limit", m.diskLimit); msg != "" {
			errs = append(errs, msg)
		}
	}
	if _, ok := stringValue(m.stack); m.stack != nil && !ok {
		errs = append(errs, "The stack field must be a String")
	}
	return len(errs) == 0, errs
}

// MemoryLimit is the requested memory, raised to the configured staging minimum.
func (m *StagingMessage) MemoryLimit() int64 {
	return atLeast(m.memoryLimit, m.config.MinimumMemory())
}

// DiskLimit is the requested disk, raised to the configured staging minimum.
func (m *StagingMessage) DiskLimit() int64 {
	return atLeast(m.diskLimit, m.config.MinimumDisk())
}

// Stack resolves the default stack on first use and reuses it afterwards.
func (m *StagingMessage) Stack() string {
	m.stackOnce.Do(func() {
		if s, ok := stringValue(m.stack); ok && s != "" {
			m.resolvedStack = s
			return
		}
		m.resolvedStack = m.config.DefaultStack()
	})
	return m.resolvedStack
}

func atLeast(requested interface{}, minimum int64) int64 {
	if n, ok := integerValue(requested); ok && n > minimum {
		return n
	}
	return minimum
}
