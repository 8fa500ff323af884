package runtime

import (
	"fmt"
	"math/rand"
)

// GenerateRandomIP returns a random public IPv4 address, rejecting the
// same reserved/private ranges as the original generator: loopback,
// private (10/8, 172.16/12, 192.168/16), link-local, CGNAT (100.64/10),
// documentation ranges, and multicast/reserved space above 223.
func GenerateRandomIP() string {
	for {
		o1 := rand.Intn(223) + 1 // 1..223, excludes 224+ multicast/reserved-high
		o2 := rand.Intn(256)
		o3 := rand.Intn(256)
		o4 := rand.Intn(256)

		switch {
		case o1 == 10:
		case o1 == 127:
		case o1 == 0:
		case o1 == 172 && o2 >= 16 && o2 <= 31:
		case o1 == 192 && o2 == 168:
		case o1 == 100 && o2 >= 64 && o2 <= 127:
		case o1 == 169 && o2 == 254:
		case o1 == 192 && o2 == 0 && o3 == 0:
		case o1 == 192 && o2 == 0 && o3 == 2:
		case o1 == 192 && o2 == 88 && o3 == 99:
		case o1 == 198 && (o2 == 18 || o2 == 19):
		case o1 == 198 && o2 == 51 && o3 == 100:
		case o1 == 203 && o2 == 0 && o3 == 113:
		default:
			return fmt.Sprintf("%d.%d.%d.%d", o1, o2, o3, o4)
		}
	}
}

// UserAgentsWeb is the pool of browser user-agent strings used for the
// "web" identity profile.
var UserAgentsWeb = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 12_5) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.6 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:102.0) Gecko/20100101 Firefox/102.0",
	"Mozilla/5.0 (iPad; CPU OS 15_5 like Mac OS X) AppleWebKit/606.1.15 (KHTML, like Gecko) Version/15.0 Mobile/15E148 Safari/605.1.15",
	"Mozilla/5.0 (Android 12; Mobile; rv:102.0) Gecko/102.0 Firefox/102.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/606.1.15 (KHTML, like Gecko) Version/15.6 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv=109.0) Gecko/20100101 Firefox/115.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 13.5; rv=109.0) Gecko/20100101 Firefox/115.0",
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv=109.0) Gecko/20100101 Firefox/115.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/116.0.0.0 Safari/537.36 Edg/116.0.1938.69",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_5) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.5 Safari/605.1.15",
	"Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 Mobile Safari/537.36",
}

// UserAgentsAPI is the pool of non-browser client user-agent strings used
// for the "api" identity profile.
var UserAgentsAPI = []string{
	"PostmanRuntime/7.29.0", "Python-requests/2.27.1", "curl/7.79.1", "Go-http-client/1.1",
	"Wget/1.20.3 (linux-gnu)", "Apache-HttpClient/4.5.13 (Java/11.0.15)", "axios/0.21.1 Node.js/v14.17.0",
	"Java/1.8.0_281", "libwww-perl/6.31", "HTTPie/2.5.0", "okhttp/4.9.1", "Faraday v2.7.10",
	"Dart/2.17 (dart:io)", "Xamarin/3.0.0 (Xamarin.Android; Android 13; SDK 33)", "Insomnia/2023.5.8",
	"Nodejs-v16.16.0", "Dalvik/2.1.0 (Linux; U; Android 13; SM-S918B Build/TP1A.220624.014)",
	"aws-sdk-js-2.1395.0", "Swift-URLSession", "ruby rest-client/2.1.0",
}

// HeadersWebOptions is the pool of browser-like header templates.
var HeadersWebOptions = []map[string]string{
	{"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8", "Accept-Language": "en-US,en;q=0.5", "Connection": "keep-alive", "Upgrade-Insecure-Requests": "1", "DNT": "1"},
	{"Accept": "application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8", "Accept-Language": "en-GB,en;q=0.5", "Connection": "keep-alive", "Upgrade-Insecure-Requests": "1", "DNT": "1", "Sec-Fetch-Site": "none", "Sec-Fetch-Mode": "navigate"},
	{"Accept": "text/html,application/xhtml+xml", "Accept-Language": "fr-FR,fr;q=0.5", "Connection": "keep-alive", "Upgrade-Insecure-Requests": "1", "Cache-Control": "no-cache"},
	{"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8", "Accept-Language": "de-DE,de;q=0.5", "Connection": "keep-alive", "Pragma": "no-cache", "Sec-Fetch-User": "?1"},
	{"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9", "Accept-Language": "es-ES,es;q=0.5", "Connection": "keep-alive", "DNT": "1", "Sec-Fetch-Site": "cross-site"},
	{"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9", "Accept-Language": "it-IT,it;q=0.5", "Connection": "keep-alive", "Upgrade-Insecure-Requests": "1", "Cache-Control": "max-age=0"},
	{"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8", "Accept-Language": "ja-JP,ja;q=0.5", "Connection": "keep-alive", "Upgrade-Insecure-Requests": "1"},
	{"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8", "Accept-Language": "ko-KR,ko;q=0.5", "Connection": "keep-alive", "Upgrade-Insecure-Requests": "1", "Sec-Fetch-Dest": "document"},
	{"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9", "Accept-Language": "zh-CN,zh;q=0.5", "Connection": "keep-alive", "Pragma": "no-cache"},
	{"Accept": "application/xhtml+xml,application/xml,*/*;q=0.8", "Accept-Language": "ru-RU,ru;q=0.5", "Connection": "keep-alive", "DNT": "1"},
	{"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8", "Accept-Language": "en-AU,en;q=0.5", "Connection": "keep-alive", "Upgrade-Insecure-Requests": "1", "Sec-Fetch-Mode": "navigate"},
	{"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9", "Accept-Language": "en-CA,en;q=0.5", "Connection": "keep-alive", "Upgrade-Insecure-Requests": "1"},
	{"Accept": "application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8", "Accept-Language": "en-IE,en;q=0.5", "Connection": "keep-alive", "Sec-Fetch-Site": "none", "Cache-Control": "max-age=0"},
	{"Accept": "text/html,application/xhtml+xml", "Accept-Language": "sv-SE,sv;q=0.5", "Connection": "keep-alive", "DNT": "1", "Sec-Fetch-Dest": "document"},
	{"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9", "Accept-Language": "pt-PT,pt;q=0.5", "Connection": "keep-alive", "Pragma": "no-cache", "Sec-Fetch-Mode": "navigate"},
	{"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8", "Accept-Language": "nl-NL,nl;q=0.5", "Connection": "keep-alive", "Sec-Fetch-Site": "same-origin"},
	{"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9", "Accept-Language": "pl-PL,pl;q=0.5", "Connection": "keep-alive", "Upgrade-Insecure-Requests": "1"},
	{"Accept": "application/json", "Accept-Language": "en-US,en;q=0.5", "Connection": "keep-alive", "X-Requested-With": "XMLHttpRequest"},
}

// HeadersAPIOptions is the pool of API-client header templates.
var HeadersAPIOptions = []map[string]string{
	{"Accept": "application/json", "Connection": "keep-alive", "Accept-Encoding": "gzip, deflate, br", "DNT": "1", "Cache-Control": "no-cache", "Pragma": "no-cache"},
	{"Accept": "application/xml", "Connection": "keep-alive", "Accept-Encoding": "gzip, deflate", "DNT": "1", "X-Requested-With": "XMLHttpRequest"},
	{"Accept": "*/*", "Connection": "keep-alive", "Accept-Encoding": "gzip, deflate", "Cache-Control": "no-cache", "X-Forwarded-Proto": "https"},
	{"Accept": "application/json, text/plain, */*", "Connection": "keep-alive", "Accept-Encoding": "gzip, deflate, br", "X-Real-IP": "192.0.2.123"},
	{"Accept": "application/json", "Connection": "keep-alive", "Accept-Encoding": "gzip, deflate", "User-Token": "randomtoken123456", "Forwarded": "for=198.51.100.50;proto=https"},
	{"Accept": "application/json", "Connection": "keep-alive", "Accept-Language": "en-US,en;q=0.5", "X-Trace-ID": "trace-56789", "X-Device-ID": "device-98765"},
	{"Accept": "application/vnd.api+json", "Connection": "keep-alive", "Authorization": "Bearer random_api_token", "X-API-Version": "2.0", "Accept-Encoding": "gzip, deflate, br"},
	{"Accept": "application/ld+json", "Connection": "keep-alive", "X-Correlation-ID": "some_correlation_id", "Content-Type": "application/json", "Accept-Encoding": "gzip, deflate"},
	{"Accept": "text/csv", "Connection": "keep-alive", "X-Auth-Token": "some_auth_token", "Accept-Encoding": "gzip, deflate, br", "Content-Type": "text/csv"},
	{"Accept": "application/x-www-form-urlencoded", "Connection": "keep-alive", "Accept-Encoding": "gzip, deflate", "X-Client-Version": "1.1.3", "Content-Type": "application/x-www-form-urlencoded"},
	{"Accept": "application/protobuf", "Connection": "keep-alive", "Content-Type": "application/protobuf", "Accept-Encoding": "gzip, deflate"},
	{"Accept": "application/octet-stream", "Connection": "keep-alive", "Content-Type": "application/octet-stream", "Accept-Encoding": "gzip, deflate, br"},
	{"Accept": "application/graphql", "Connection": "keep-alive", "Content-Type": "application/graphql", "Accept-Encoding": "gzip, deflate"},
	{"Accept": "text/plain", "Connection": "keep-alive", "Content-Type": "text/plain", "Accept-Encoding": "gzip, deflate, br"},
	{"Accept": "application/jwt", "Connection": "keep-alive", "Authorization": "Bearer some_jwt_token", "Accept-Encoding": "gzip, deflate"},
	{"Accept": "application/vnd.ms-excel", "Connection": "keep-alive", "Accept-Encoding": "gzip, deflate, br", "Content-Type": "application/vnd.ms-excel"},
	{"Accept": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "Connection": "keep-alive", "Accept-Encoding": "gzip, deflate", "Content-Type": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
	{"Accept": "image/png", "Connection": "keep-alive", "Accept-Encoding": "gzip, deflate"},
	{"Accept": "image/jpeg", "Connection": "keep-alive", "Accept-Encoding": "gzip, deflate, br"},
	{"Accept": "image/gif", "Connection": "keep-alive", "Accept-Encoding": "gzip, deflate"},
	{"Accept": "application/pdf", "Connection": "keep-alive", "Accept-Encoding": "gzip, deflate, br"},
}

// Identity is a per-flow-iteration impersonated client: a fake source IP,
// a user-agent, and a matching header template, drawn from either the web
// or API pool with equal probability.
type Identity struct {
	IP        string
	UserAgent string
	Headers   map[string]string
}

// GenerateIdentity picks a random web/API profile and returns a fresh
// Identity. The header map is copied so callers may mutate it freely.
func GenerateIdentity() Identity {
	isWeb := rand.Intn(2) == 0

	var ua string
	var template map[string]string
	if isWeb {
		ua = UserAgentsWeb[rand.Intn(len(UserAgentsWeb))]
		template = HeadersWebOptions[rand.Intn(len(HeadersWebOptions))]
	} else {
		ua = UserAgentsAPI[rand.Intn(len(UserAgentsAPI))]
		template = HeadersAPIOptions[rand.Intn(len(HeadersAPIOptions))]
	}
	if ua == "" {
		ua = "FlowRunner/1.0"
	}

	headers := make(map[string]string, len(template))
	for k, v := range template {
		headers[k] = v
	}

	return Identity{
		IP:        GenerateRandomIP(),
		UserAgent: ua,
		Headers:   headers,
	}
}
