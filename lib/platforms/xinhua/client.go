package xinhua

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"xhbook/internal/gateway"

	"github.com/go-resty/resty/v2"
)

const DefaultBaseURL = "https://univ.xinhua.sh.cn"

// the university name the login form submits
const University = "应用技术大学"

const loginReferer = "login.do?univ=YJ"

var ErrMalformedResponse = errors.New("malformed platform response")

// ErrNoData is returned when the platform answers with code "0" but no data
// where data is required.
var ErrNoData = errors.New("platform response carried no data")

// Executor is the part of the gateway the client needs.
type Executor interface {
	Execute(ctx context.Context, call gateway.Call) (*resty.Response, error)
}

type Client struct {
	gw Executor
}

func NewClient(gw Executor) *Client {
	return &Client{gw: gw}
}

type envelope struct {
	Code     flexString      `json:"code"`
	ErrorMsg string          `json:"errorMsg"`
	Data     json.RawMessage `json:"data"`
}

// decode unwraps the {code, errorMsg, data} envelope, any code other than
// "0" becomes a *gateway.ServerRejection.
func decode(res *resty.Response, err error) (json.RawMessage, error) {
	if err != nil {
		return nil, err
	}
	var env envelope
	err = json.Unmarshal(res.Body(), &env)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedResponse, err.Error())
	}
	if env.Code != "0" {
		msg := env.ErrorMsg
		if msg == "" {
			msg = gateway.DefaultRejectionMessage
		}
		return nil, &gateway.ServerRejection{
			Status:  res.StatusCode(),
			Code:    string(env.Code),
			Message: msg,
		}
	}
	return env.Data, nil
}

func hasData(data json.RawMessage) bool {
	switch string(data) {
	case "", "null", "[]", "{}", `""`:
		return false
	}
	return true
}

func first[T any](data json.RawMessage) (T, error) {
	var out T
	if !hasData(data) {
		return out, ErrNoData
	}
	var list []T
	err := json.Unmarshal(data, &list)
	if err != nil {
		return out, fmt.Errorf("%w: %s", ErrMalformedResponse, err.Error())
	}
	if len(list) == 0 {
		return out, ErrNoData
	}
	return list[0], nil
}

func list[T any](data json.RawMessage) ([]T, error) {
	if !hasData(data) {
		return nil, nil
	}
	var out []T
	err := json.Unmarshal(data, &out)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedResponse, err.Error())
	}
	return out, nil
}

func scalar(data json.RawMessage) (string, error) {
	var s flexString
	err := s.UnmarshalJSON(data)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrMalformedResponse, err.Error())
	}
	if s == "" {
		return "", ErrNoData
	}
	return string(s), nil
}

// HashPassword is the digest the login endpoint expects.
func HashPassword(password string) string {
	sum := md5.Sum([]byte(password))
	return hex.EncodeToString(sum[:])
}

func orderReferer(orderID string) string {
	return "order.do?order_id=" + url.QueryEscape(orderID)
}

// WarmUp loads the login page so the server hands out an anonymous session
// cookie before the captcha is requested.
func (c *Client) WarmUp(ctx context.Context) error {
	_, err := c.gw.Execute(ctx, gateway.Call{
		Method:    http.MethodGet,
		URL:       "/login.do",
		Query:     url.Values{"univ": {"YJ"}},
		EventType: "LOGIN_PAGE",
		Raw:       true,
	})
	return err
}

func (c *Client) Captcha(ctx context.Context) ([]byte, error) {
	res, err := c.gw.Execute(ctx, gateway.Call{
		Method:    http.MethodGet,
		URL:       "/api/getVerifyCode.do",
		EventType: "GET_VERIFY_CODE",
		Referer:   loginReferer,
		Raw:       true,
	})
	if err != nil {
		return nil, err
	}
	return res.Body(), nil
}

// Login returns the student id of the account on success.
func (c *Client) Login(ctx context.Context, studentNo, password, verifyCode string) (string, error) {
	data, err := decode(c.gw.Execute(ctx, gateway.Call{
		Method:    http.MethodPost,
		URL:       "/api/StudentLogin.do",
		EventType: "LOGIN",
		Referer:   loginReferer,
		JSON: map[string]string{
			"univ":       University,
			"studentNo":  studentNo,
			"pwd":        HashPassword(password),
			"verifyCode": verifyCode,
		},
	}))
	if err != nil {
		return "", err
	}
	return scalar(data)
}

func (c *Client) studentInfo(ctx context.Context, studentID, event string, timeout time.Duration) (Student, error) {
	data, err := decode(c.gw.Execute(ctx, gateway.Call{
		Method:    http.MethodPost,
		URL:       "/api/GetStudentInfo.do",
		EventType: event,
		Referer:   "myBook.do",
		JSON:      map[string]string{"studentID": studentID},
		Timeout:   timeout,
	}))
	if err != nil {
		return Student{}, err
	}
	return first[Student](data)
}

func (c *Client) StudentInfo(ctx context.Context, studentID string) (Student, error) {
	return c.studentInfo(ctx, studentID, "GET_STUDENT_INFO", 10*time.Second)
}

// ValidateSession is StudentInfo with a shorter timeout, it is used to check
// whether restored cookies are still accepted.
func (c *Client) ValidateSession(ctx context.Context, studentID string) (Student, error) {
	return c.studentInfo(ctx, studentID, "VALIDATE_SESSION", 5*time.Second)
}

func (c *Client) Books(ctx context.Context, studentID string) ([]Book, error) {
	data, err := decode(c.gw.Execute(ctx, gateway.Call{
		Method:    http.MethodPost,
		URL:       "/api/GetBookList.do",
		EventType: "GET_BOOK_LIST",
		Referer:   "myBook.do",
		JSON:      map[string]string{"studentID": studentID},
	}))
	if err != nil {
		return nil, err
	}
	return list[Book](data)
}

type orderLine struct {
	BookID   string `json:"bookID"`
	CourseNo string `json:"courseNo"`
	ClassNo  string `json:"classNo"`
	Course   string `json:"course"`
	Teacher  string `json:"teacher"`
}

// BuildOrder places an order for the given books and returns its id.
func (c *Client) BuildOrder(ctx context.Context, studentID string, books []Book) (string, error) {
	lines := make([]orderLine, len(books))
	for i, b := range books {
		lines[i] = orderLine{
			BookID:   b.BookID,
			CourseNo: b.CourseNo,
			ClassNo:  b.ClassNo,
			Course:   b.Course,
			Teacher:  b.Teacher,
		}
	}

	data, err := decode(c.gw.Execute(ctx, gateway.Call{
		Method:    http.MethodPost,
		URL:       "/api/BuildOrder.do",
		EventType: "CREATE_ORDER",
		Referer:   "myBook.do",
		Timeout:   15 * time.Second,
		JSON: map[string]any{
			"studentID": studentID,
			"type":      "N",
			"books":     lines,
		},
	}))
	if err != nil {
		return "", err
	}
	return scalar(data)
}

func (c *Client) Order(ctx context.Context, studentID, orderID string) (Order, error) {
	data, err := decode(c.gw.Execute(ctx, gateway.Call{
		Method:    http.MethodPost,
		URL:       "/api/GetOrder.do",
		EventType: "GET_ORDER_DETAIL",
		Referer:   orderReferer(orderID),
		JSON: map[string]string{
			"studentID": studentID,
			"orderID":   orderID,
		},
	}))
	if err != nil {
		return Order{}, err
	}
	return first[Order](data)
}

func (c *Client) Orders(ctx context.Context, studentID string) ([]Order, error) {
	data, err := decode(c.gw.Execute(ctx, gateway.Call{
		Method:    http.MethodPost,
		URL:       "/api/GetOrderList.do",
		EventType: "GET_ORDER_HISTORY",
		Referer:   "myOrder.do",
		JSON: map[string]string{
			"studentID":   studentID,
			"historySign": "100",
		},
	}))
	if err != nil {
		return nil, err
	}
	return list[Order](data)
}

func (c *Client) AbortOrder(ctx context.Context, studentID, orderID string) error {
	_, err := decode(c.gw.Execute(ctx, gateway.Call{
		Method:    http.MethodPost,
		URL:       "/api/AbortOrder.do",
		EventType: "CANCEL_ORDER",
		Referer:   orderReferer(orderID),
		JSON: map[string]string{
			"orderID":   orderID,
			"studentID": studentID,
		},
	}))
	return err
}

type PaymentMethod string

const (
	Alipay PaymentMethod = "alipay"
	WeChat PaymentMethod = "wechat"
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch PaymentMethod(s) {
	case Alipay, WeChat:
		return PaymentMethod(s), nil
	}
	return "", fmt.Errorf("unknown payment method '%s', expected alipay or wechat", s)
}

// PaymentURL asks the platform for the url a payment app should open to
// pay for the order.
func (c *Client) PaymentURL(ctx context.Context, method PaymentMethod, orderID string, amount float64) (string, error) {
	call := gateway.Call{
		Method:  http.MethodGet,
		Referer: orderReferer(orderID),
		Query: url.Values{
			"order_id":     {orderID},
			"order_amount": {fmt.Sprintf("%.2f", amount)},
		},
	}
	switch method {
	case Alipay:
		call.URL = "/pay/getalipayurl.do"
		call.EventType = "GET_ALIPAY_URL"
	case WeChat:
		call.URL = "/wxPay/getWxPayUrl.do"
		call.EventType = "GET_WXPAY_URL"
	default:
		return "", fmt.Errorf("unknown payment method '%s'", method)
	}

	res, err := c.gw.Execute(ctx, call)
	if err != nil {
		return "", err
	}
	var result struct {
		Ok      flexBool   `json:"ok"`
		Message flexString `json:"message"`
	}
	err = json.Unmarshal(res.Body(), &result)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrMalformedResponse, err.Error())
	}
	if !result.Ok || result.Message == "" {
		msg := string(result.Message)
		if msg == "" {
			msg = "无法获取支付链接"
		}
		return "", &gateway.ServerRejection{Status: res.StatusCode(), Message: msg}
	}
	return string(result.Message), nil
}

// QRCode renders a payment url into a QR code image on the platform.
func (c *Client) QRCode(ctx context.Context, paymentURL string) ([]byte, error) {
	res, err := c.gw.Execute(ctx, gateway.Call{
		Method:    http.MethodGet,
		URL:       "/check/QRCode.do",
		EventType: "GET_PAY_QRCODE",
		Query:     url.Values{"data": {paymentURL}},
		Raw:       true,
	})
	if err != nil {
		return nil, err
	}
	return res.Body(), nil
}

func (c *Client) simple(ctx context.Context, path, event, referer string, query url.Values) error {
	_, err := decode(c.gw.Execute(ctx, gateway.Call{
		Method:    http.MethodGet,
		URL:       path,
		EventType: event,
		Referer:   referer,
		Query:     query,
	}))
	return err
}

func (c *Client) SendForgetPasswordCode(ctx context.Context, studentCode, mobile string) error {
	return c.simple(ctx, "/api/sendCodeAndStudentNo.do", "SEND_FORGET_PWD_CODE", "forgetpwd.do", url.Values{
		"mobile":      {mobile},
		"studentCode": {studentCode},
	})
}

func (c *Client) ResetPassword(ctx context.Context, studentCode, mobile, code string) error {
	return c.simple(ctx, "/api/ResetPwd.do", "RESET_PASSWORD", "forgetpwd.do", url.Values{
		"studentCode": {studentCode},
		"mobile":      {mobile},
		"code":        {code},
	})
}

func (c *Client) SendBindPhoneCode(ctx context.Context, mobile string) error {
	return c.simple(ctx, "/api/sendCode.do", "SEND_BIND_PHONE_CODE", "setPwd.do", url.Values{
		"mobile": {mobile},
	})
}

func (c *Client) BindPhone(ctx context.Context, mobile, code string) error {
	return c.simple(ctx, "/api/bindPhone.do", "BIND_PHONE", "setPwd.do", url.Values{
		"mobile": {mobile},
		"code":   {code},
	})
}
