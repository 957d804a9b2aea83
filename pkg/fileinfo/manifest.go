package fileinfo

import (
	"os"
	"strings"

	"github.com/clbanning/mxj"
	"github.com/pkg/errors"
)

// ManifestIdentity is the assemblyIdentity element of a side-by-side
// assembly manifest.
type ManifestIdentity struct {
	Type                  string
	Name                  string
	Version               string
	ProcessorArchitecture string
	PublicKeyToken        string
}

// ErrInvalidManifest marks manifests that parse as XML but lack an
// assembly/assemblyIdentity element.
var ErrInvalidManifest = errors.New("manifest has no assembly identity")

// ReadManifest parses the manifest at path. A missing file returns an
// error satisfying os.IsNotExist.
func ReadManifest(path string) (*ManifestIdentity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	mv, err := mxj.NewMapXml(raw)
	if err != nil {
		return nil, errors.Wrap(err, "mxj parse")
	}

	assembly, ok := child(mv.Old(), "assembly")
	if !ok {
		return nil, ErrInvalidManifest
	}
	identity, ok := child(assembly, "assemblyIdentity")
	if !ok {
		return nil, ErrInvalidManifest
	}

	return &ManifestIdentity{
		Type:                  attr(identity, "type"),
		Name:                  attr(identity, "name"),
		Version:               attr(identity, "version"),
		ProcessorArchitecture: attr(identity, "processorArchitecture"),
		PublicKeyToken:        attr(identity, "publicKeyToken"),
	}, nil
}

func localName(key string) string {
	if i := strings.LastIndexByte(key, ':'); i >= 0 {
		return key[i+1:]
	}
	return key
}

// child finds the first element named local below m, ignoring any
// namespace prefix. Repeated elements come back from mxj as a slice.
func child(m map[string]interface{}, local string) (map[string]interface{}, bool) {
	for k, v := range m {
		if strings.HasPrefix(k, "-") || localName(k) != local {
			continue
		}
		switch el := v.(type) {
		case map[string]interface{}:
			return el, true
		case []interface{}:
			for _, item := range el {
				if mm, ok := item.(map[string]interface{}); ok {
					return mm, true
				}
			}
		case string:
			// Present but empty.
			return map[string]interface{}{}, true
		}
	}
	return nil, false
}

func attr(m map[string]interface{}, name string) string {
	for k, v := range m {
		if !strings.HasPrefix(k, "-") || localName(k[1:]) != name {
			continue
		}
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
