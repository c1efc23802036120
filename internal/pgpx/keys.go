package pgpx

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/packet"
)

// Key describes one keyring entry.
type Key struct {
	KeyID        string
	Fingerprint  string
	UserIDs      []string
	Capabilities string
	Secret       bool
}

// SecretKeys lists secret keys whose user ids mention name or address.
// Empty filters match every key.
func (e *Engine) SecretKeys(name, address string) ([]Key, error) {
	list, err := e.src.SecretKeyring()
	if err != nil {
		return nil, fmt.Errorf("read secret keyring: %w", err)
	}
	return describe(list, name, address, true), nil
}

// PublicKeys lists public keys whose user ids mention name or address.
func (e *Engine) PublicKeys(name, address string) ([]Key, error) {
	list, err := e.src.PublicKeyring()
	if err != nil {
		return nil, fmt.Errorf("read public keyring: %w", err)
	}
	return describe(list, name, address, false), nil
}

func describe(list openpgp.EntityList, name, address string, secret bool) []Key {
	var out []Key
	for _, ent := range list {
		var uids []string
		hit := name == "" && address == ""
		for uid := range ent.Identities {
			uids = append(uids, uid)
			l := strings.ToLower(uid)
			if (name != "" && strings.Contains(l, strings.ToLower(name))) ||
				(address != "" && strings.Contains(l, strings.ToLower(address))) {
				hit = true
			}
		}
		if !hit {
			continue
		}
		sort.Strings(uids)
		out = append(out, Key{
			KeyID:        ent.PrimaryKey.KeyIdString(),
			Fingerprint:  fmt.Sprintf("%X", ent.PrimaryKey.Fingerprint[:]),
			UserIDs:      uids,
			Capabilities: capabilities(ent),
			Secret:       secret && ent.PrivateKey != nil,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].KeyID < out[j].KeyID })
	return out
}

// capabilities renders gpg-style usage letters (s, c, e) over the primary
// key and its subkeys.
func capabilities(ent *openpgp.Entity) string {
	var sign, cert, enc bool
	check := func(sig *packet.Signature) {
		if sig == nil || !sig.FlagsValid {
			return
		}
		sign = sign || sig.FlagSign
		cert = cert || sig.FlagCertify
		enc = enc || sig.FlagEncryptCommunications || sig.FlagEncryptStorage
	}
	for _, id := range ent.Identities {
		check(id.SelfSignature)
	}
	for _, sub := range ent.Subkeys {
		check(sub.Sig)
	}
	var sb strings.Builder
	for _, c := range []struct {
		on bool
		ch byte
	}{{sign, 's'}, {cert, 'c'}, {enc, 'e'}} {
		if c.on {
			sb.WriteByte(c.ch)
		}
	}
	return sb.String()
}
