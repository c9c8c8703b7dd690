package sign

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
)

var (
	ErrInvalidPEM       = errors.New("无效的 PEM 编码密钥")
	ErrNotRSAKey        = errors.New("不是 RSA 密钥")
	ErrVerifyFailed     = errors.New("签名验证失败")
	ErrInvalidSignature = errors.New("签名不是有效的 base64 编码")
)

// Signer SHA256WithRSA 签名器，持有平台私钥
type Signer struct {
	privateKey *rsa.PrivateKey
}

// NewSignerFromPEM 从 PEM 编码的私钥创建签名器
// 支持 PKCS#1 和 PKCS#8 两种格式
func NewSignerFromPEM(pemKey []byte) (*Signer, error) {
	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, ErrInvalidPEM
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return &Signer{privateKey: key}, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("解析私钥失败: %w", err)
	}

	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, ErrNotRSAKey
	}
	return &Signer{privateKey: key}, nil
}

// Sign 对数据做 SHA256WithRSA 签名，返回 base64 编码的签名值
func (s *Signer) Sign(data []byte) (string, error) {
	hashed := sha256.Sum256(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.privateKey, crypto.SHA256, hashed[:])
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// PublicKeyPEM 返回 PKIX PEM 编码的公钥
func (s *Signer) PublicKeyPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(&s.privateKey.PublicKey)
	if err != nil {
		return "", err
	}
	out := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return string(out), nil
}

// Verifier SHA256WithRSA 验签器，持有某一方的公钥
type Verifier struct {
	publicKey *rsa.PublicKey
}

// NewVerifierFromPEM 从 PEM 编码的公钥创建验签器
func NewVerifierFromPEM(pemKey []byte) (*Verifier, error) {
	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, ErrInvalidPEM
	}

	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return &Verifier{publicKey: key}, nil
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("解析公钥失败: %w", err)
	}

	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, ErrNotRSAKey
	}
	return &Verifier{publicKey: key}, nil
}

// Verify 验证 base64 编码的 SHA256WithRSA 签名
func (v *Verifier) Verify(data []byte, signature string) error {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return ErrInvalidSignature
	}

	hashed := sha256.Sum256(data)
	if err := rsa.VerifyPKCS1v15(v.publicKey, crypto.SHA256, hashed[:], sig); err != nil {
		return ErrVerifyFailed
	}
	return nil
}
