package onepassword

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wippyai/op-bridge/ffi"
)

// ErrCodeNotFound is the core's error code for a field the item does not have.
const ErrCodeNotFound int32 = 133

// Vault is a vault visible to the service account. It stays usable until
// the Client it came from is closed.
type Vault struct {
	ID    string `json:"id"`
	Title string `json:"title"`

	client *Client
}

// Item is an entry in a vault.
type Item struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Category string    `json:"category"`
	Websites []Website `json:"websites"`

	vaultID string
	client  *Client
}

// Website is a URL attached to an item.
type Website struct {
	URL string `json:"url"`
}

// VaultID returns the id of the vault holding the item.
func (it *Item) VaultID() string {
	return it.vaultID
}

// Vaults lists every vault the client can read.
func (c *Client) Vaults(ctx context.Context) ([]*Vault, error) {
	vaults, err := invoke[[]*Vault](ctx, c, vaultsListParams())
	if err != nil {
		return nil, err
	}
	for _, v := range vaults {
		v.client = c
	}
	return vaults, nil
}

// VaultByTitle returns the first vault with the given title, or nil.
func (c *Client) VaultByTitle(ctx context.Context, title string) (*Vault, error) {
	vaults, err := c.Vaults(ctx)
	if err != nil {
		return nil, err
	}
	for _, v := range vaults {
		if v.Title == title {
			return v, nil
		}
	}
	return nil, nil
}

// Items lists the items in the vault.
func (v *Vault) Items(ctx context.Context) ([]*Item, error) {
	items, err := invoke[[]*Item](ctx, v.client, itemsListParams(v.ID), attribute.String("vault.id", v.ID))
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		it.vaultID = v.ID
		it.client = v.client
	}
	return items, nil
}

// ItemsForWebsite returns the items with a website matching website. When
// website has no scheme, item URLs are compared with their scheme stripped.
func (v *Vault) ItemsForWebsite(ctx context.Context, website string) ([]*Item, error) {
	items, err := v.Items(ctx)
	if err != nil {
		return nil, err
	}

	var out []*Item
	for _, it := range items {
		if it.matches(website) {
			out = append(out, it)
		}
	}
	return out, nil
}

func (it *Item) matches(website string) bool {
	trimScheme := !strings.Contains(website, "://")
	for _, w := range it.Websites {
		if trimScheme {
			_, rest, ok := strings.Cut(w.URL, "://")
			if ok && strings.HasPrefix(website, rest) {
				return true
			}
			continue
		}
		if strings.HasPrefix(website, w.URL) {
			return true
		}
	}
	return false
}

// SecretReference returns the op:// reference of one of the item's fields.
func (it *Item) SecretReference(field string) string {
	return "op://" + it.vaultID + "/" + it.ID + "/" + field
}

// Password resolves the item's password. An item without one yields nil.
func (it *Item) Password(ctx context.Context) (*Secret, error) {
	return it.Resolve(ctx, "password")
}

// Resolve resolves one of the item's fields. A missing field yields nil.
func (it *Item) Resolve(ctx context.Context, field string) (*Secret, error) {
	ref := it.SecretReference(field)
	secret, err := invoke[Secret](ctx, it.client, secretsResolveParams(ref),
		attribute.String("vault.id", it.vaultID),
		attribute.String("item.id", it.ID),
		attribute.String("field", field))
	if err != nil {
		if code, ok := ffi.ErrorCode(err); ok && code == ErrCodeNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &secret, nil
}

// ResolveReference resolves an arbitrary op:// secret reference.
func (c *Client) ResolveReference(ctx context.Context, ref string) (*Secret, error) {
	secret, err := invoke[Secret](ctx, c, secretsResolveParams(ref))
	if err != nil {
		if code, ok := ffi.ErrorCode(err); ok && code == ErrCodeNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &secret, nil
}
