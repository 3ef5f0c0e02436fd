package messages

import (
	"fmt"
	"strings"
)

const (
	BitsType   = "bits"
	DockerType = "docker"
)

var validPackageTypes = []string{BitsType, DockerType}

// PackageCreateMessage is a request to create a package for an app.
type PackageCreateMessage struct {
	AppGUID string
	Type    string
	URL     string

	typ interface{}
	url interface{}
	err error
}

func NewPackageCreateMessage(appGUID string, body []byte) *PackageCreateMessage {
	m := &PackageCreateMessage{AppGUID: appGUID}

	opts, isObject, err := decodeObject(body)
	if err == nil && !isObject {
		err = &parseError{reason: "invalid request body"}
	}
	if err != nil {
		m.err = err
		return m
	}

	m.typ = opts["type"]
	m.url = opts["url"]
	if s, ok := stringValue(m.typ); ok {
		m.Type = s
	}
	if s, ok := stringValue(m.url); ok {
		m.URL = s
	}
	return m
}

func (m *PackageCreateMessage) Validate() (bool, []string) {
	if m.err != nil {
		return false, []string{m.err.Error()}
	}

	var errs []string
	if msg := m.validateType(); msg != "" {
		errs = append(errs, msg)
	}
	if msg := m.validateURL(); msg != "" {
		errs = append(errs, msg)
	}
	return len(errs) == 0, errs
}

func (m *PackageCreateMessage) validateType() string {
	if m.typ == nil {
		return "The type field is required"
	}
	for _, t := range validPackageTypes {
		if m.typ == t {
			return ""
		}
	}
	return fmt.Sprintf("The type field needs to be one of '%s'", strings.Join(validPackageTypes, ", "))
}

func (m *PackageCreateMessage) validateURL() string {
	if m.typ == BitsType && m.url != nil {
		return "The url field cannot be provided when type is bits."
	}
	if m.typ == DockerType && m.url == nil {
		return "The url field must be provided for type docker."
	}
	return ""
}

// PackageUploadMessage carries the local path of uploaded package bits.
type PackageUploadMessage struct {
	PackageGUID string
	BitsPath    string
}

func NewPackageUploadMessage(packageGUID string, opts map[string]string) *PackageUploadMessage {
	return &PackageUploadMessage{
		PackageGUID: packageGUID,
		BitsPath:    opts["bits_path"],
	}
}

func (m *PackageUploadMessage) Validate() (bool, []string) {
	if m.BitsPath == "" {
		return false, []string{"An application zip file must be uploaded."}
	}
	return true, nil
}
