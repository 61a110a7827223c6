package model

import "fmt"

// FileRef points at a file already registered with the model provider.
type FileRef struct {
	URI           string `json:"uri" validate:"required,max=2048"`
	MIMEType      string `json:"mime_type" validate:"required,max=128"`
	DisplayName   string `json:"display_name,omitempty" validate:"max=512"`
	ContextItemID string `json:"context_item_id,omitempty"`
	IsROI         bool   `json:"is_roi,omitempty"`
}

// ROIDisplayName names a rendered region the way clients expect to see it.
func ROIDisplayName(contextItemID string, dpi int) string {
	return fmt.Sprintf("roi_%s_%ddpi.png", contextItemID, dpi)
}

// HasROI reports whether any ref is a rendered region.
func HasROI(refs []FileRef) bool {
	for _, r := range refs {
		if r.IsROI {
			return true
		}
	}
	return false
}
