package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
)

// hash.go - HMAC-подписи запросов к API бирж
//
// Каждая биржа требует свой алгоритм подписи приватных запросов:
// bitfinex - HMAC-SHA384 от base64-пейлоада, hitbtc - BasicAuth
// (подпись не нужна). Здесь собраны общие примитивы, конкретный
// формат пейлоада строит транспорт биржи.

// SignSHA256 возвращает hex-строку HMAC-SHA256 подписи
func SignSHA256(secret, payload string) string {
	return sign(sha256.New, secret, payload)
}

// SignSHA384 возвращает hex-строку HMAC-SHA384 подписи
func SignSHA384(secret, payload string) string {
	return sign(sha512.New384, secret, payload)
}

// SignSHA512 возвращает hex-строку HMAC-SHA512 подписи
func SignSHA512(secret, payload string) string {
	return sign(sha512.New, secret, payload)
}

func sign(algorithm func() hash.Hash, secret, payload string) string {
	mac := hmac.New(algorithm, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature сравнивает подписи за константное время
func VerifySignature(expected, actual string) bool {
	return hmac.Equal([]byte(expected), []byte(actual))
}
