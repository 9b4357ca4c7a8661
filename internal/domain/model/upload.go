package model

type UploadCategory string

const (
	CategoryProduct     UploadCategory = "product"
	CategoryLogo        UploadCategory = "logo"
	CategoryInspiration UploadCategory = "inspiration"
)

// Categories lists the fixed reference categories in display order.
func Categories() []UploadCategory {
	return []UploadCategory{CategoryProduct, CategoryLogo, CategoryInspiration}
}

// UploadPolicy decides what happens when a category receives a new item.
type UploadPolicy string

const (
	// PolicyReplace swaps the single existing item for the new one.
	PolicyReplace UploadPolicy = "replace"
	// PolicyAppend accumulates items up to the category cap.
	PolicyAppend UploadPolicy = "append"
)

type UploadOrigin string

const (
	OriginLocalFile UploadOrigin = "local-file"
	OriginRemoteURL UploadOrigin = "remote-url"
)

// CategorySpec is the configured capacity and policy of a category.
type CategorySpec struct {
	Max    int
	Policy UploadPolicy
}

// UploadItem is one reference asset on its way to a durable URL.
type UploadItem struct {
	ID          string         `json:"id"`
	Category    UploadCategory `json:"category"`
	Origin      UploadOrigin   `json:"origin"`
	FileName    string         `json:"fileName,omitempty"`
	ContentType string         `json:"contentType,omitempty"`
	// PreviewRef points at the local preview (a file in the preview store for
	// local files, the source URL for remote ones).
	PreviewRef string `json:"previewRef,omitempty"`
	DurableURL string `json:"durableUrl,omitempty"`
	Uploading  bool   `json:"uploading"`
	Err        string `json:"error,omitempty"`
}

// Ready reports whether the item has a durable reference.
func (i UploadItem) Ready() bool {
	return !i.Uploading && i.Err == "" && i.DurableURL != ""
}

// Upload request kinds understood by the storage endpoints.
const (
	StorageKindProduct     = "product"
	StorageKindLogo        = "logo"
	StorageKindInspiration = "inspiration"
	StorageKindGeneration  = "generation"
)
