package bedrock

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// signRequest signs httpReq in place using AWS Signature Version 4, per the
// algorithm AWS publishes for the "bedrock" service. No AWS SDK is present
// anywhere in the example pack, so this is a minimal from-scratch
// implementation covering exactly the request shapes Bedrock Runtime needs:
// a single POST with a JSON body and no query string.
func signRequest(req *http.Request, body []byte, region, accessKeyID, secretAccessKey, sessionToken string, now time.Time) {
	amzDate := now.UTC().Format("20060102T150405Z")
	dateStamp := now.UTC().Format("20060102")

	req.Header.Set("X-Amz-Date", amzDate)
	req.Header.Set("Host", req.URL.Host)
	if sessionToken != "" {
		req.Header.Set("X-Amz-Security-Token", sessionToken)
	}

	payloadHash := sha256Hex(body)
	req.Header.Set("X-Amz-Content-Sha256", payloadHash)

	canonicalHeaders, signedHeaders := canonicalizeHeaders(req.Header)
	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalURI(req.URL),
		"", // no query string on Bedrock invoke calls
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")

	credentialScope := dateStamp + "/" + region + "/bedrock/aws4_request"
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		credentialScope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")

	signingKey := deriveSigningKey(secretAccessKey, dateStamp, region, "bedrock")
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	authHeader := "AWS4-HMAC-SHA256 " +
		"Credential=" + accessKeyID + "/" + credentialScope +
		", SignedHeaders=" + signedHeaders +
		", Signature=" + signature
	req.Header.Set("Authorization", authHeader)
}

func canonicalURI(u *url.URL) string {
	if u.EscapedPath() == "" {
		return "/"
	}
	return u.EscapedPath()
}

func canonicalizeHeaders(h http.Header) (canonical, signed string) {
	names := make([]string, 0, len(h)+1)
	lower := map[string]string{}
	add := func(name, value string) {
		ln := strings.ToLower(name)
		if _, exists := lower[ln]; !exists {
			names = append(names, ln)
		}
		lower[ln] = strings.TrimSpace(value)
	}
	for name, values := range h {
		add(name, strings.Join(values, ","))
	}
	sort.Strings(names)

	var cb strings.Builder
	for _, n := range names {
		cb.WriteString(n)
		cb.WriteByte(':')
		cb.WriteString(lower[n])
		cb.WriteByte('\n')
	}
	return cb.String(), strings.Join(names, ";")
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func deriveSigningKey(secretKey, dateStamp, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secretKey), dateStamp)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, service)
	return hmacSHA256(kService, "aws4_request")
}
