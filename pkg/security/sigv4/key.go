package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
)

// DeriveSigningKey runs the four-step HMAC-SHA256 chain for the s3 service:
//
//	kDate    = HMAC("AWS4" + secret, shortDate)
//	kRegion  = HMAC(kDate, region)
//	kService = HMAC(kRegion, "s3")
//	kSigning = HMAC(kService, "aws4_request")
//
// shortDate is YYYYMMDD in UTC. The 32-byte result is recomputed on every call.
func DeriveSigningKey(secretAccessKey, shortDate, region string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secretAccessKey), shortDate)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, Service)
	return hmacSHA256(kService, Terminator)
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}
