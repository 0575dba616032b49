package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Type hashes are keccak256 of the canonical EIP-712 type strings, which
// must match the CLOB's verifier byte for byte.
var (
	// The auth domain carries no verifying contract; the exchange domain
	// pins the CTF Exchange address.
	authDomainTypeHash     = ethcrypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId)"))
	exchangeDomainTypeHash = ethcrypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))

	clobAuthTypeHash = ethcrypto.Keccak256([]byte("ClobAuth(address address,string timestamp,uint256 nonce,string message)"))
	orderTypeHash    = ethcrypto.Keccak256([]byte("Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)"))
)

const (
	authDomainName     = "ClobAuthDomain"
	exchangeDomainName = "Polymarket CTF Exchange"
	domainVersion      = "1"

	// clobAuthMessage is the fixed attestation string the CLOB expects inside
	// every ClobAuth struct.
	clobAuthMessage = "This message attests that I control the given wallet"
)

// OrderPayload carries the order fields the CLOB expects, in wire form.
// Addresses and uint256 values travel as decimal or hex strings so JSON
// never mangles them.
type OrderPayload struct {
	Salt          string `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          int    `json:"side"`          // 0 = BUY, 1 = SELL
	SignatureType int    `json:"signatureType"` // 0 = EOA, 1 = POLY_PROXY, 2 = POLY_GNOSIS_SAFE
}

// Signer provides EIP-712 signing for the Polymarket CLOB API. Auth messages
// and orders live in different EIP-712 domains; both separators are computed
// once at construction.
type Signer struct {
	privateKey        *ecdsa.PrivateKey
	address           common.Address
	chainID           int
	authDomainSep     []byte
	exchangeDomainSep []byte
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key, the
// target chain ID (137 for Polygon mainnet, 80002 for Amoy testnet), and the
// address of the CTF Exchange contract orders are settled against.
func NewSigner(privateKeyHex string, chainID int, exchangeAddress string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	if chainID <= 0 {
		return nil, fmt.Errorf("crypto/signer: invalid chain id %d", chainID)
	}
	if !common.IsHexAddress(exchangeAddress) {
		return nil, fmt.Errorf("crypto/signer: invalid exchange address %q", exchangeAddress)
	}
	exchange := common.HexToAddress(exchangeAddress)

	return &Signer{
		privateKey:        pk,
		address:           ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:           chainID,
		authDomainSep:     domainSeparator(authDomainTypeHash, authDomainName, chainID, nil),
		exchangeDomainSep: domainSeparator(exchangeDomainTypeHash, exchangeDomainName, chainID, addressWord(exchange)),
	}, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignAuthMessage signs a ClobAuth EIP-712 message used to obtain L2 API
// credentials from the Polymarket CLOB. The timestamp is Unix seconds as a
// decimal string, matching the POLY_TIMESTAMP header sent alongside it. The
// returned string is a hex-encoded signature with recovery byte (65 bytes).
func (s *Signer) SignAuthMessage(timestamp string, nonce int64) (string, error) {
	if nonce < 0 {
		return "", fmt.Errorf("crypto/signer: invalid nonce %d", nonce)
	}

	structHash := ethcrypto.Keccak256(
		clobAuthTypeHash,
		addressWord(s.address),
		ethcrypto.Keccak256([]byte(timestamp)),
		uint256Word(big.NewInt(nonce)),
		ethcrypto.Keccak256([]byte(clobAuthMessage)),
	)
	return s.signDigest(eip712Hash(s.authDomainSep, structHash))
}

// SignOrder signs an Order EIP-712 struct used to place limit orders on the
// Polymarket CLOB. It returns a hex-encoded 65-byte signature.
func (s *Signer) SignOrder(order OrderPayload) (string, error) {
	structHash, err := orderStructHash(order)
	if err != nil {
		return "", err
	}
	return s.signDigest(eip712Hash(s.exchangeDomainSep, structHash))
}

// NewOrderSalt returns a random uint64-range salt, decimal-encoded, for order
// uniqueness.
func NewOrderSalt() (string, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 64)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: generating salt: %w", err)
	}
	return n.String(), nil
}

// domainSeparator hashes an EIP-712 domain struct. verifyingContract is the
// pre-padded contract word, or nil for domains without one.
func domainSeparator(typeHash []byte, name string, chainID int, verifyingContract []byte) []byte {
	words := [][]byte{
		typeHash,
		ethcrypto.Keccak256([]byte(name)),
		ethcrypto.Keccak256([]byte(domainVersion)),
		uint256Word(big.NewInt(int64(chainID))),
	}
	if verifyingContract != nil {
		words = append(words, verifyingContract)
	}
	return ethcrypto.Keccak256(words...)
}

// eip712Hash binds a struct hash to its domain:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256([]byte{0x19, 0x01}, domainSep, structHash)
}

// signDigest signs a 32-byte digest using secp256k1 and returns the
// hex-encoded signature (r || s || v, 65 bytes).
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// Shift the recovery byte from {0,1} to the {27,28} verifiers expect.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// orderStructHash ABI-encodes the payload's fields in type order and hashes
// them under the Order type hash.
func orderStructHash(o OrderPayload) ([]byte, error) {
	enc := structEncoder{words: [][]byte{orderTypeHash}}
	enc.uint256("salt", o.Salt)
	enc.address(o.Maker)
	enc.address(o.Signer)
	enc.address(o.Taker)
	enc.uint256("tokenId", o.TokenID)
	enc.uint256("makerAmount", o.MakerAmount)
	enc.uint256("takerAmount", o.TakerAmount)
	enc.uint256("expiration", o.Expiration)
	enc.uint256("nonce", o.Nonce)
	enc.uint256("feeRateBps", o.FeeRateBps)
	enc.uint8("side", o.Side)
	enc.uint8("signatureType", o.SignatureType)
	if enc.err != nil {
		return nil, enc.err
	}
	return ethcrypto.Keccak256(enc.words...), nil
}

// structEncoder accumulates 32-byte ABI words, keeping the first error for
// the caller to check once all fields are in.
type structEncoder struct {
	words [][]byte
	err   error
}

func (e *structEncoder) uint256(field, v string) {
	if e.err != nil {
		return
	}
	n, ok := new(big.Int).SetString(v, 10)
	if !ok || n.Sign() < 0 || n.BitLen() > 256 {
		e.err = fmt.Errorf("crypto/signer: invalid %s %q", field, v)
		return
	}
	e.words = append(e.words, uint256Word(n))
}

func (e *structEncoder) uint8(field string, v int) {
	if e.err != nil {
		return
	}
	if v < 0 || v > 255 {
		e.err = fmt.Errorf("crypto/signer: invalid %s %d", field, v)
		return
	}
	e.words = append(e.words, uint256Word(big.NewInt(int64(v))))
}

func (e *structEncoder) address(hexAddr string) {
	if e.err != nil {
		return
	}
	e.words = append(e.words, addressWord(common.HexToAddress(hexAddr)))
}

// uint256Word returns n as a 32-byte big-endian word. Callers validate that
// n is non-negative and fits in 256 bits.
func uint256Word(n *big.Int) []byte {
	return n.FillBytes(make([]byte, 32))
}

// addressWord left-pads a 20-byte address into a 32-byte word.
func addressWord(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}
