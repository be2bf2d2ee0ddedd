package wallet

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stashbtc/stashd/coinselect"
	"github.com/stashbtc/stashd/wallet/internal/db"
)

var (
	// ErrInvalidDescriptor is returned when an output script descriptor
	// cannot be parsed, refers to the wrong network or contains private
	// key material.
	ErrInvalidDescriptor = errors.New("invalid descriptor")
)

// ScriptKind identifies the output script template of a parsed descriptor.
type ScriptKind uint8

const (
	// ScriptKindP2PKH pays to a public key hash (legacy).
	ScriptKindP2PKH ScriptKind = iota

	// ScriptKindNestedP2WPKH pays to a P2WPKH program nested in P2SH.
	ScriptKindNestedP2WPKH

	// ScriptKindP2WPKH pays to a version 0 witness public key hash.
	ScriptKindP2WPKH

	// ScriptKindP2TR pays to a BIP-86 taproot output key.
	ScriptKindP2TR

	// ScriptKindMultisigP2SH pays to a BIP-67 sorted multisig redeem
	// script in P2SH.
	ScriptKindMultisigP2SH

	// ScriptKindMultisigP2WSH pays to a BIP-67 sorted multisig witness
	// script in P2WSH.
	ScriptKindMultisigP2WSH

	// ScriptKindMultisigNestedP2WSH pays to a P2WSH multisig program
	// nested in P2SH.
	ScriptKindMultisigNestedP2WSH
)

// String returns the descriptor function form of the kind.
func (k ScriptKind) String() string {
	switch k {
	case ScriptKindP2PKH:
		return "pkh"
	case ScriptKindNestedP2WPKH:
		return "sh(wpkh)"
	case ScriptKindP2WPKH:
		return "wpkh"
	case ScriptKindP2TR:
		return "tr"
	case ScriptKindMultisigP2SH:
		return "sh(sortedmulti)"
	case ScriptKindMultisigP2WSH:
		return "wsh(sortedmulti)"
	case ScriptKindMultisigNestedP2WSH:
		return "sh(wsh(sortedmulti))"
	default:
		return fmt.Sprintf("unknown<%d>", uint8(k))
	}
}

// SelectionScriptType maps the descriptor kind onto the input weight class
// the coin selection fee estimator distinguishes. Multisig witnesses are
// larger than the single-sig estimate of their wrapper class, so fee
// estimates for multisig drafts lean low.
func (k ScriptKind) SelectionScriptType() coinselect.ScriptType {
	switch k {
	case ScriptKindP2PKH, ScriptKindMultisigP2SH:
		return coinselect.ScriptTypeLegacy
	case ScriptKindNestedP2WPKH, ScriptKindMultisigNestedP2WSH:
		return coinselect.ScriptTypeNestedSegwit
	case ScriptKindP2TR:
		return coinselect.ScriptTypeTaproot
	default:
		return coinselect.ScriptTypeNativeSegwit
	}
}

// Descriptor is a parsed output script descriptor. It holds account level
// extended public keys only; Derive appends the non-hardened branch and
// index steps.
type Descriptor struct {
	kind      ScriptKind
	threshold int
	keys      []*hdkeychain.ExtendedKey
	params    *chaincfg.Params
}

// Kind returns the output script template of the descriptor.
func (d *Descriptor) Kind() ScriptKind {
	return d.kind
}

// DerivedAddress is a single address derived from a descriptor at a branch
// and index.
type DerivedAddress struct {
	// Address is the derived address.
	Address btcutil.Address

	// PkScript is the output script paying the address.
	PkScript []byte

	// Branch is the derivation branch the address was derived on.
	Branch uint32

	// Index is the derivation index within the branch.
	Index uint32
}

// ParseDescriptor parses an output script descriptor of one of the forms
//
//	pkh(KEY), sh(wpkh(KEY)), wpkh(KEY), tr(KEY),
//	sh(sortedmulti(m,KEY,...)), wsh(sortedmulti(m,KEY,...)),
//	sh(wsh(sortedmulti(m,KEY,...)))
//
// where KEY is an extended public key for the given network, optionally
// prefixed with a key origin ("[fingerprint/84h/0h/0h]") and optionally
// suffixed with a wildcard template ("/*" or "/<0;1>/*"). A trailing
// "#checksum" is verified when present. SLIP-132 prefixes (ypub, zpub,
// upub, vpub and their multisig variants) are normalized before parsing.
func ParseDescriptor(descriptor string,
	params *chaincfg.Params) (*Descriptor, error) {

	if params == nil {
		return nil, fmt.Errorf("%w: no network parameters",
			ErrInvalidDescriptor)
	}

	body := strings.TrimSpace(descriptor)
	if sep := strings.LastIndexByte(body, '#'); sep >= 0 {
		err := verifyChecksum(body[:sep], body[sep+1:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor,
				err)
		}
		body = body[:sep]
	}
	if body == "" {
		return nil, fmt.Errorf("%w: empty descriptor",
			ErrInvalidDescriptor)
	}

	if inner, ok := innerExpr(body, "pkh"); ok {
		return parseSingleKey(ScriptKindP2PKH, inner, params)
	}
	if inner, ok := innerExpr(body, "wpkh"); ok {
		return parseSingleKey(ScriptKindP2WPKH, inner, params)
	}
	if inner, ok := innerExpr(body, "tr"); ok {
		return parseSingleKey(ScriptKindP2TR, inner, params)
	}
	if inner, ok := innerExpr(body, "wsh"); ok {
		multi, ok := innerExpr(inner, "sortedmulti")
		if !ok {
			return nil, fmt.Errorf("%w: wsh() must wrap "+
				"sortedmulti()", ErrInvalidDescriptor)
		}
		return parseSortedMulti(ScriptKindMultisigP2WSH, multi, params)
	}
	if inner, ok := innerExpr(body, "sh"); ok {
		if wpkh, ok := innerExpr(inner, "wpkh"); ok {
			return parseSingleKey(
				ScriptKindNestedP2WPKH, wpkh, params,
			)
		}
		if wsh, ok := innerExpr(inner, "wsh"); ok {
			multi, ok := innerExpr(wsh, "sortedmulti")
			if !ok {
				return nil, fmt.Errorf("%w: sh(wsh()) must "+
					"wrap sortedmulti()",
					ErrInvalidDescriptor)
			}
			return parseSortedMulti(
				ScriptKindMultisigNestedP2WSH, multi, params,
			)
		}
		if multi, ok := innerExpr(inner, "sortedmulti"); ok {
			return parseSortedMulti(
				ScriptKindMultisigP2SH, multi, params,
			)
		}
		return nil, fmt.Errorf("%w: unsupported sh() script",
			ErrInvalidDescriptor)
	}

	form := body
	if paren := strings.IndexByte(form, '('); paren >= 0 {
		form = form[:paren]
	}
	return nil, fmt.Errorf("%w: unsupported script function %q",
		ErrInvalidDescriptor, form)
}

// innerExpr returns the argument of a name(...) wrapper, reporting whether
// the expression has that form.
func innerExpr(expr, name string) (string, bool) {
	if !strings.HasPrefix(expr, name+"(") || !strings.HasSuffix(expr, ")") {
		return "", false
	}

	return expr[len(name)+1 : len(expr)-1], true
}

// parseSingleKey builds a descriptor around a single extended key.
func parseSingleKey(kind ScriptKind, keyExpr string,
	params *chaincfg.Params) (*Descriptor, error) {

	key, err := parseExtendedKey(keyExpr, params)
	if err != nil {
		return nil, err
	}

	return &Descriptor{
		kind:   kind,
		keys:   []*hdkeychain.ExtendedKey{key},
		params: params,
	}, nil
}

// parseSortedMulti builds a descriptor around a sortedmulti(m,KEY,...)
// expression.
func parseSortedMulti(kind ScriptKind, expr string,
	params *chaincfg.Params) (*Descriptor, error) {

	parts := strings.Split(expr, ",")
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: sortedmulti needs a threshold "+
			"and at least one key", ErrInvalidDescriptor)
	}

	threshold, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid multisig threshold %q",
			ErrInvalidDescriptor, parts[0])
	}

	keyExprs := parts[1:]
	if threshold < 1 || threshold > len(keyExprs) {
		return nil, fmt.Errorf("%w: threshold %d out of range for "+
			"%d keys", ErrInvalidDescriptor, threshold,
			len(keyExprs))
	}

	// P2SH redeem scripts are limited to 520 bytes, which caps a sorted
	// multisig at 15 compressed keys. The witness forms carry the
	// CHECKMULTISIG consensus limit of 20.
	maxKeys := 20
	if kind == ScriptKindMultisigP2SH {
		maxKeys = 15
	}
	if len(keyExprs) > maxKeys {
		return nil, fmt.Errorf("%w: %d keys exceed the %d key limit "+
			"of %v", ErrInvalidDescriptor, len(keyExprs), maxKeys,
			kind)
	}

	keys := make([]*hdkeychain.ExtendedKey, len(keyExprs))
	seen := make(map[string]struct{}, len(keyExprs))
	for i, keyExpr := range keyExprs {
		key, err := parseExtendedKey(keyExpr, params)
		if err != nil {
			return nil, err
		}

		if _, ok := seen[key.String()]; ok {
			return nil, fmt.Errorf("%w: duplicate key in "+
				"sortedmulti", ErrInvalidDescriptor)
		}
		seen[key.String()] = struct{}{}

		keys[i] = key
	}

	return &Descriptor{
		kind:      kind,
		threshold: threshold,
		keys:      keys,
		params:    params,
	}, nil
}

// parseExtendedKey parses a single descriptor key expression into an
// account level extended public key for the given network.
func parseExtendedKey(expr string,
	params *chaincfg.Params) (*hdkeychain.ExtendedKey, error) {

	expr = strings.TrimSpace(expr)

	// Strip an optional key origin prefix.
	if strings.HasPrefix(expr, "[") {
		end := strings.IndexByte(expr, ']')
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated key origin",
				ErrInvalidDescriptor)
		}
		expr = expr[end+1:]
	}

	// Strip an optional wildcard template. The branch and index steps
	// are always appended by Derive, so only the templates matching that
	// scheme are accepted.
	for _, suffix := range []string{"/<0;1>/*", "/*"} {
		if strings.HasSuffix(expr, suffix) {
			expr = strings.TrimSuffix(expr, suffix)
			break
		}
	}
	if strings.ContainsRune(expr, '/') {
		return nil, fmt.Errorf("%w: explicit derivation paths are "+
			"not supported", ErrInvalidDescriptor)
	}

	key, err := hdkeychain.NewKeyFromString(normalizeExtendedKey(expr))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}

	if key.IsPrivate() {
		return nil, fmt.Errorf("%w: private keys are not accepted",
			ErrInvalidDescriptor)
	}
	if !key.IsForNet(params) {
		return nil, fmt.Errorf("%w: key does not belong to the %s "+
			"network", ErrInvalidDescriptor, params.Name)
	}

	return key, nil
}

// slip132Versions maps the SLIP-132 extended public key version bytes
// (ypub, zpub, upub, vpub and their multisig variants) onto the BIP-32
// version bytes of the same network, so keys exported by wallets that
// encode the script type into the prefix parse like plain xpub/tpub keys.
var slip132Versions = map[[4]byte][4]byte{
	{0x04, 0x9d, 0x7c, 0xb2}: {0x04, 0x88, 0xb2, 0x1e}, // ypub -> xpub
	{0x04, 0xb2, 0x47, 0x46}: {0x04, 0x88, 0xb2, 0x1e}, // zpub -> xpub
	{0x02, 0x95, 0xb4, 0x3f}: {0x04, 0x88, 0xb2, 0x1e}, // Ypub -> xpub
	{0x02, 0xaa, 0x7e, 0xd3}: {0x04, 0x88, 0xb2, 0x1e}, // Zpub -> xpub
	{0x04, 0x4a, 0x52, 0x62}: {0x04, 0x35, 0x87, 0xcf}, // upub -> tpub
	{0x04, 0x5f, 0x1c, 0xf6}: {0x04, 0x35, 0x87, 0xcf}, // vpub -> tpub
	{0x02, 0x42, 0x89, 0xef}: {0x04, 0x35, 0x87, 0xcf}, // Upub -> tpub
	{0x02, 0x57, 0x54, 0x83}: {0x04, 0x35, 0x87, 0xcf}, // Vpub -> tpub
}

// normalizeExtendedKey rewrites a SLIP-132 version prefix to the BIP-32
// prefix of the same network and re-encodes the key. Keys that do not
// decode, fail their base58 checksum or already carry an unmapped version
// are returned unchanged so hdkeychain reports the error.
func normalizeExtendedKey(key string) string {
	const serializedKeyLen = 78

	decoded := base58.Decode(key)
	if len(decoded) != serializedKeyLen+4 {
		return key
	}

	checksum := chainhash.DoubleHashB(decoded[:serializedKeyLen])[:4]
	if !bytes.Equal(checksum, decoded[serializedKeyLen:]) {
		return key
	}

	var version [4]byte
	copy(version[:], decoded[:4])
	canonical, ok := slip132Versions[version]
	if !ok {
		return key
	}

	payload := make([]byte, serializedKeyLen)
	copy(payload, decoded[:serializedKeyLen])
	copy(payload[:4], canonical[:])

	checksum = chainhash.DoubleHashB(payload)[:4]

	return base58.Encode(append(payload, checksum...))
}

// Derive derives the address at the given branch and index, appending the
// non-hardened /branch/index path to every descriptor key.
// hdkeychain.ErrInvalidChild passes through unwrapped so callers can skip
// the index.
func (d *Descriptor) Derive(branch, index uint32) (*DerivedAddress, error) {
	pubKeys := make([]*btcec.PublicKey, len(d.keys))
	for i, key := range d.keys {
		branchKey, err := key.Derive(branch)
		if err != nil {
			return nil, err
		}
		childKey, err := branchKey.Derive(index)
		if err != nil {
			return nil, err
		}
		pubKey, err := childKey.ECPubKey()
		if err != nil {
			return nil, err
		}
		pubKeys[i] = pubKey
	}

	addr, err := d.address(pubKeys)
	if err != nil {
		return nil, err
	}

	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}

	return &DerivedAddress{
		Address:  addr,
		PkScript: pkScript,
		Branch:   branch,
		Index:    index,
	}, nil
}

// address builds the address of the descriptor's kind from the derived
// public keys.
func (d *Descriptor) address(pubKeys []*btcec.PublicKey) (btcutil.Address,
	error) {

	switch d.kind {
	case ScriptKindP2PKH:
		pubKeyHash := btcutil.Hash160(pubKeys[0].SerializeCompressed())
		return btcutil.NewAddressPubKeyHash(pubKeyHash, d.params)

	case ScriptKindP2WPKH:
		pubKeyHash := btcutil.Hash160(pubKeys[0].SerializeCompressed())
		return btcutil.NewAddressWitnessPubKeyHash(
			pubKeyHash, d.params,
		)

	case ScriptKindNestedP2WPKH:
		pubKeyHash := btcutil.Hash160(pubKeys[0].SerializeCompressed())
		witnessAddr, err := btcutil.NewAddressWitnessPubKeyHash(
			pubKeyHash, d.params,
		)
		if err != nil {
			return nil, err
		}
		witnessProg, err := txscript.PayToAddrScript(witnessAddr)
		if err != nil {
			return nil, err
		}
		return btcutil.NewAddressScriptHash(witnessProg, d.params)

	case ScriptKindP2TR:
		// BIP-86: tweak the internal key with an empty script tree.
		outputKey := txscript.ComputeTaprootKeyNoScript(pubKeys[0])
		return btcutil.NewAddressTaproot(
			schnorr.SerializePubKey(outputKey), d.params,
		)

	case ScriptKindMultisigP2SH:
		script, err := d.multisigScript(pubKeys)
		if err != nil {
			return nil, err
		}
		return btcutil.NewAddressScriptHash(script, d.params)

	case ScriptKindMultisigP2WSH:
		script, err := d.multisigScript(pubKeys)
		if err != nil {
			return nil, err
		}
		scriptHash := sha256.Sum256(script)
		return btcutil.NewAddressWitnessScriptHash(
			scriptHash[:], d.params,
		)

	case ScriptKindMultisigNestedP2WSH:
		script, err := d.multisigScript(pubKeys)
		if err != nil {
			return nil, err
		}
		scriptHash := sha256.Sum256(script)
		witnessAddr, err := btcutil.NewAddressWitnessScriptHash(
			scriptHash[:], d.params,
		)
		if err != nil {
			return nil, err
		}
		witnessProg, err := txscript.PayToAddrScript(witnessAddr)
		if err != nil {
			return nil, err
		}
		return btcutil.NewAddressScriptHash(witnessProg, d.params)

	default:
		return nil, fmt.Errorf("%w: unknown script kind %d",
			ErrInvalidDescriptor, d.kind)
	}
}

// multisigScript builds the m-of-n CHECKMULTISIG script for the derived
// keys, sorted by compressed serialization per BIP-67 so every cosigner
// arrives at the same script regardless of descriptor key order.
func (d *Descriptor) multisigScript(pubKeys []*btcec.PublicKey) ([]byte,
	error) {

	serialized := make([][]byte, len(pubKeys))
	for i, pubKey := range pubKeys {
		serialized[i] = pubKey.SerializeCompressed()
	}
	sort.Slice(serialized, func(i, j int) bool {
		return bytes.Compare(serialized[i], serialized[j]) < 0
	})

	addrPubKeys := make([]*btcutil.AddressPubKey, len(serialized))
	for i, keyBytes := range serialized {
		addrPubKey, err := btcutil.NewAddressPubKey(keyBytes, d.params)
		if err != nil {
			return nil, err
		}
		addrPubKeys[i] = addrPubKey
	}

	return txscript.MultiSigScript(addrPubKeys, d.threshold)
}

// maxInvalidChildSkips bounds how many underivable indexes one derivation
// window steps over before giving up. hdkeychain rejects a child with
// probability below 1 in 2^127, so reaching the bound means the key
// material is broken.
const maxInvalidChildSkips = 10

// deriveAddresses derives count consecutive addresses on the given branch
// starting at start, stepping over indexes the key material cannot produce
// a child for and reporting them in skipped.
func deriveAddresses(desc *Descriptor, branch db.Branch, start,
	count uint32) ([]db.NewAddress, []uint32, error) {

	addrs := make([]db.NewAddress, 0, count)
	var skipped []uint32

	index := start
	for uint32(len(addrs)) < count {
		derived, err := desc.Derive(uint32(branch), index)
		switch {
		case errors.Is(err, hdkeychain.ErrInvalidChild):
			if len(skipped) >= maxInvalidChildSkips {
				return nil, nil, fmt.Errorf("branch %d: too "+
					"many underivable indexes: %w",
					branch, err)
			}
			log.Debugf("Skipping underivable index %d on "+
				"branch %d", index, branch)
			skipped = append(skipped, index)
			index++
			continue

		case err != nil:
			return nil, nil, fmt.Errorf("derive %d/%d: %w",
				branch, index, err)
		}

		addrs = append(addrs, db.NewAddress{
			Address:      derived.Address.EncodeAddress(),
			ScriptPubKey: derived.PkScript,
			Branch:       branch,
			Index:        index,
		})
		index++
	}

	return addrs, skipped, nil
}

// Descriptor checksums, per the scheme Bitcoin Core appends after '#'
// (BIP-380). The symbol alphabet matches bech32; the polynomial differs.
const (
	checksumCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

	// inputCharset enumerates every character allowed in a descriptor
	// body, in the group order the checksum assigns symbol values by.
	inputCharset = "0123456789()[],'/*abcdefgh@:$%{}IJKLMNOPQRSTUVWXYZ" +
		"&+-.;<=>?!^_|~ijklmnopqrstuvwxyzABCDEFGH`#\"\\ "
)

// descriptorPolymod is one step of the BIP-380 checksum polynomial.
func descriptorPolymod(c, val uint64) uint64 {
	generator := [5]uint64{
		0xf5dee51989, 0xa9fdca3312, 0x1bab10e32d, 0x3706b1677a,
		0x644d626ffd,
	}

	c0 := c >> 35
	c = ((c & 0x7ffffffff) << 5) ^ val
	for i, g := range generator {
		if (c0>>uint(i))&1 == 1 {
			c ^= g
		}
	}

	return c
}

// descriptorChecksum computes the 8 character checksum of a descriptor
// body.
func descriptorChecksum(body string) (string, error) {
	var (
		c        = uint64(1)
		cls      uint64
		clsCount int
	)
	for _, ch := range body {
		pos := strings.IndexRune(inputCharset, ch)
		if pos < 0 {
			return "", fmt.Errorf("invalid descriptor "+
				"character %q", ch)
		}

		c = descriptorPolymod(c, uint64(pos)&31)
		cls = cls*3 + uint64(pos>>5)
		clsCount++
		if clsCount == 3 {
			c = descriptorPolymod(c, cls)
			cls = 0
			clsCount = 0
		}
	}
	if clsCount > 0 {
		c = descriptorPolymod(c, cls)
	}
	for i := 0; i < 8; i++ {
		c = descriptorPolymod(c, 0)
	}
	c ^= 1

	var checksum [8]byte
	for i := 0; i < 8; i++ {
		checksum[i] = checksumCharset[(c>>uint(5*(7-i)))&31]
	}

	return string(checksum[:]), nil
}

// verifyChecksum checks a '#' suffixed checksum against the body it covers.
func verifyChecksum(body, checksum string) error {
	expected, err := descriptorChecksum(body)
	if err != nil {
		return err
	}
	if checksum != expected {
		return fmt.Errorf("checksum mismatch: got %q, want %q",
			checksum, expected)
	}

	return nil
}
