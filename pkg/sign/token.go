package sign

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// SignType 请求/应答签名认证类型
const SignType = "SHA256-RSA2048"

// 请求时间戳的有效期（秒），超出视为过期请求
const TimestampValidSeconds = 60

// Token 解析后的请求认证凭据
// Authorization 标头格式：SHA256-RSA2048 sign_type,app_id,timestamp,signature
type Token struct {
	SignType  string
	AppID     string
	Timestamp int64
	Signature string
}

// ParseAuthorization 解析 Authorization 标头值
func ParseAuthorization(header string) (*Token, error) {
	if header == "" {
		return nil, fmt.Errorf("未提供身份认证标头")
	}

	parts := strings.Fields(header)
	if len(parts) != 2 {
		return nil, fmt.Errorf("授权标头值格式无效，必须是空格分隔的两个值组成的")
	}
	if parts[0] != SignType {
		return nil, fmt.Errorf("身份认证类型不支持")
	}

	return ParseToken(parts[1])
}

// ParseToken 解析凭据字符串 sign_type,app_id,timestamp,signature
func ParseToken(token string) (*Token, error) {
	parts := strings.Split(token, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("授权标头值格式无效")
	}

	if parts[0] != SignType {
		return nil, fmt.Errorf("身份认证类型不支持")
	}

	timestamp, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("授权标头值时间戳格式无效")
	}

	return &Token{
		SignType:  parts[0],
		AppID:     parts[1],
		Timestamp: timestamp,
		Signature: parts[3],
	}, nil
}

// RequestStringToSign 构造请求签名串
//
//	认证类型\n
//	请求时间戳\n
//	HTTP请求方法\n
//	URI\n
//	请求报文主体
func RequestStringToSign(method, uri string, timestamp int64, body string) string {
	return strings.Join([]string{
		SignType,
		strconv.FormatInt(timestamp, 10),
		strings.ToUpper(method),
		escapeURI(uri),
		body,
	}, "\n")
}

// escapeURI 对 URI 做百分号转义，路径分隔符 '/' 保留
func escapeURI(uri string) string {
	segments := strings.Split(uri, "/")
	for i, s := range segments {
		segments[i] = url.QueryEscape(s)
	}
	return strings.Join(segments, "/")
}

// ResponseStringToSign 构造应答签名串
//
//	认证类型\n
//	应答时间戳\n
//	应答报文主体
func ResponseStringToSign(timestamp int64, body string) string {
	return strings.Join([]string{
		SignType,
		strconv.FormatInt(timestamp, 10),
		body,
	}, "\n")
}

// BuildToken 构造请求认证凭据，调用方用自己的私钥签名
func BuildToken(appID string, method, uri, body string, timestamp int64, signer *Signer) (string, error) {
	signString := RequestStringToSign(method, uri, timestamp, body)
	signature, err := signer.Sign([]byte(signString))
	if err != nil {
		return "", err
	}
	return strings.Join([]string{SignType, appID, strconv.FormatInt(timestamp, 10), signature}, ","), nil
}
