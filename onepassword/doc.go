// Package onepassword is a small 1Password client on top of the ffi bridge.
//
// A Client wraps one native client. Every lookup is a JSON invocation sent
// through the bridge:
//
//	{"invocation":{"clientId":1,"parameters":{"name":"ItemsList","parameters":{"vault_id":"v1","filters":[]}}}}
//
// Vaults and items keep a reference to the Client that produced them and
// stop working once it is closed.
//
//	client, err := onepassword.NewClient(ctx, bridge, onepassword.DefaultClientConfig(token))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	vault, err := client.VaultByTitle(ctx, "Personal")
//	items, err := vault.ItemsForWebsite(ctx, "github.com")
//	pw, err := items[0].Password(ctx)
//
// Resolved values are returned as Secret, which redacts itself everywhere
// except Expose.
package onepassword
