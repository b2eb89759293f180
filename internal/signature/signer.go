package signature

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

// Длина подписи в формате Ethereum: r (32) || s (32) || v (1)
const ethSignatureLen = 65

var (
	// ErrMalformedSignature - подпись не парсится (не hex, не 65 байт,
	// точка вне кривой)
	ErrMalformedSignature = errors.New("malformed signature")
)

// Verifier восстанавливает подписанта из пары сообщение+подпись
// (схема EIP-191 personal_sign) и сверяет его с ожидаемым адресом.
type Verifier struct{}

// NewVerifier создает верификатор подписей
func NewVerifier() *Verifier {
	return &Verifier{}
}

// Verify проверяет, что sigHex - валидная подпись message от expectedAddress.
// Адреса сравниваются без учета регистра. Любая причина отказа
// (битая подпись или чужой подписант) возвращает false: различие
// наружу не выносится.
func (v *Verifier) Verify(message, sigHex, expectedAddress string) bool {
	signer, err := RecoverSigner(message, sigHex)
	if err != nil {
		return false
	}
	return strings.EqualFold(signer, expectedAddress)
}

// RecoverSigner восстанавливает адрес подписанта из подписи EIP-191
func RecoverSigner(message, sigHex string) (string, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if len(sig) != ethSignatureLen {
		return "", fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedSignature, ethSignatureLen, len(sig))
	}

	// Ethereum кладет recovery id последним (r||s||v, v = 27/28 или 0/1);
	// RecoverCompact ожидает его первым (v||r||s, v = 27 + recid)
	recID := sig[64]
	if recID < 27 {
		recID += 27
	}
	compact := make([]byte, ethSignatureLen)
	compact[0] = recID
	copy(compact[1:], sig[:64])

	hash := hashPersonalMessage(message)

	pubKey, _, err := ecdsa.RecoverCompact(compact, hash)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}

	return pubKeyToAddress(pubKey), nil
}

// Sign подписывает сообщение приватным ключом и возвращает подпись
// в формате Ethereum (0x + r||s||v). Используется клиентами и тестами;
// сервер только проверяет.
func Sign(message string, priv *secp256k1.PrivateKey) string {
	hash := hashPersonalMessage(message)

	// SignCompact возвращает v||r||s с v = 27 + recid
	compact := ecdsa.SignCompact(priv, hash, false)

	eth := make([]byte, ethSignatureLen)
	copy(eth, compact[1:])
	eth[64] = compact[0]

	return "0x" + hex.EncodeToString(eth)
}

// AddressFromPrivateKey возвращает Ethereum-адрес для приватного ключа
func AddressFromPrivateKey(priv *secp256k1.PrivateKey) string {
	return pubKeyToAddress(priv.PubKey())
}

// hashPersonalMessage считает хеш сообщения по EIP-191:
// keccak256("\x19Ethereum Signed Message:\n" + len(msg) + msg)
func hashPersonalMessage(message string) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(prefixed))
	return h.Sum(nil)
}

// pubKeyToAddress выводит адрес из публичного ключа:
// последние 20 байт keccak256 несжатого ключа без префикса 0x04
func pubKeyToAddress(pub *secp256k1.PublicKey) string {
	uncompressed := pub.SerializeUncompressed()

	h := sha3.NewLegacyKeccak256()
	h.Write(uncompressed[1:])
	digest := h.Sum(nil)

	return "0x" + hex.EncodeToString(digest[12:])
}
