package storage

import (
	"fmt"
	"strings"
	"time"
)

// ObjectPurpose selects the layout of an archived object.
type ObjectPurpose string

const (
	PurposeShippingLabel ObjectPurpose = "shipping-label"
)

// PathParams provide the identifiers used to compose object keys.
type PathParams struct {
	OrderID   string
	Reference string
	FileName  string
	At        time.Time
}

// BuildObjectPath resolves the object key for purpose.
func BuildObjectPath(purpose ObjectPurpose, params PathParams) (string, error) {
	orderID, err := validateSegment("orderID", params.OrderID)
	if err != nil {
		return "", err
	}
	switch purpose {
	case PurposeShippingLabel:
		name := strings.TrimSpace(params.FileName)
		if name == "" {
			ref := strings.TrimSpace(params.Reference)
			if ref == "" {
				ref = params.At.UTC().Format("20060102T150405Z")
			}
			name = ref + ".pdf"
		}
		fileName, err := validateFileName(name)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("orders/%s/labels/%s", orderID, fileName), nil
	default:
		return "", fmt.Errorf("storage: unsupported object purpose %q", purpose)
	}
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}

func validateFileName(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: fileName is required")
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: fileName contains invalid path characters")
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: fileName contains invalid traversal sequence")
	}
	return value, nil
}
