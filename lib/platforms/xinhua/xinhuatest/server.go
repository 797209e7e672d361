// Package xinhuatest provides an in-memory imitation of the platform for
// tests that need to drive the client end to end.
package xinhuatest

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

const (
	CaptchaCode = "8k3p"
	SmsCode     = "246810"
	cookieName  = "JSESSIONID"
)

// CaptchaImage is what the fake returns from the captcha endpoint.
var CaptchaImage = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0x00, 0x01}

type Account struct {
	StudentNo   string
	Password    string
	StudentID   string
	StudentName string
	Mobile      string
}

type Book struct {
	BookID    string
	BookName  string
	Course    string
	CourseNo  string
	ClassNo   string
	Teacher   string
	Price     float64
	RealPrice float64
	Stock     int
}

type order struct {
	id        string
	studentID string
	amount    float64
	status    string
	paid      bool
	books     []Book
}

type Server struct {
	*httptest.Server

	mutex    sync.Mutex
	accounts map[string]*Account
	sessions map[string]string
	books    []Book
	orders   map[string]*order
	orderSeq int
	hits     map[string]int
	broken   map[string]int
	lastBody map[string]map[string]any
	// studentID reported in profiles, by student number
	profileIDs map[string]string
}

func NewServer() *Server {
	s := &Server{
		accounts: map[string]*Account{},
		sessions: map[string]string{},
		orders:   map[string]*order{},
		hits:     map[string]int{},
		broken:   map[string]int{},
		lastBody: map[string]map[string]any{},

		profileIDs: map[string]string{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

func (s *Server) AddAccount(a Account) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	copied := a
	s.accounts[a.StudentNo] = &copied
}

func (s *Server) SetBooks(books []Book) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.books = books
}

// Break makes every request to path answer with the given http status.
// A status of 0 repairs it.
func (s *Server) Break(path string, status int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if status == 0 {
		delete(s.broken, path)
		return
	}
	s.broken[path] = status
}

// ExpireSessions forgets every issued session cookie.
func (s *Server) ExpireSessions() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.sessions = map[string]string{}
}

// ReportProfileID makes profiles of the student carry the given studentID
// instead of the real one. An empty id leaves the field out.
func (s *Server) ReportProfileID(studentNo, studentID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.profileIDs[studentNo] = studentID
}

func (s *Server) Hits(path string) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.hits[path]
}

// LastBody returns the json body of the latest request to path.
func (s *Server) LastBody(path string) map[string]any {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.lastBody[path]
}

func (s *Server) MarkPaid(orderID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if o, ok := s.orders[orderID]; ok {
		o.paid = true
		o.status = "已支付"
	}
}

func (s *Server) Mobile(studentNo string) string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if a, ok := s.accounts[studentNo]; ok {
		return a.Mobile
	}
	return ""
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	json.NewEncoder(w).Encode(v)
}

func succeed(w http.ResponseWriter, data any) {
	writeJSON(w, map[string]any{"code": "0", "errorMsg": "", "data": data})
}

func reject(w http.ResponseWriter, code, msg string) {
	writeJSON(w, map[string]any{"code": code, "errorMsg": msg, "data": nil})
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// caller must hold the mutex
func (s *Server) account(r *http.Request) *Account {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return nil
	}
	studentNo, ok := s.sessions[cookie.Value]
	if !ok {
		return nil
	}
	return s.accounts[studentNo]
}

// caller must hold the mutex
func (s *Server) studentJSON(a *Account) map[string]any {
	profile := map[string]any{
		"studentID":   a.StudentID,
		"studentNo":   a.StudentNo,
		"studentName": a.StudentName,
		"mobile":      a.Mobile,
		"className":   "软件工程2301",
		"gradeYear":   2023,
	}
	if id, ok := s.profileIDs[a.StudentNo]; ok {
		profile["studentID"] = id
		if id == "" {
			delete(profile, "studentID")
		}
	}
	return profile
}

func (o *order) json() map[string]any {
	details := []map[string]any{}
	for _, b := range o.books {
		payStatus := "未支付"
		if o.paid {
			payStatus = "已支付"
		}
		details = append(details, map[string]any{
			"bookName":       b.BookName,
			"amount":         fmt.Sprintf("%.2f", b.RealPrice),
			"orderNum":       1,
			"payStatusName":  payStatus,
			"sendStatusName": "未发货",
		})
	}
	return map[string]any{
		"orderID":      o.id,
		"amount":       o.amount,
		"status":       o.status,
		"orderDate":    "2024-09-01 10:00:00",
		"payType":      "",
		"paid":         o.paid,
		"payAmount":    0,
		"orderDetails": details,
	}
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	path := r.URL.Path
	s.hits[path]++

	var body map[string]any
	if r.Body != nil && r.Method == http.MethodPost {
		json.NewDecoder(r.Body).Decode(&body)
		s.lastBody[path] = body
	}
	str := func(key string) string {
		v, _ := body[key].(string)
		return v
	}
	query := r.URL.Query()

	if status, broken := s.broken[path]; broken {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(status)
		fmt.Fprintf(w, "<html><head><title>%d %s</title></head><body></body></html>", status, http.StatusText(status))
		return
	}

	switch path {
	case "/login.do":
		http.SetCookie(w, &http.Cookie{Name: cookieName, Value: "anonymous", Path: "/"})
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><head><title>登录</title></head></html>"))
		return
	case "/api/getVerifyCode.do":
		w.Header().Set("Content-Type", "image/png")
		w.Write(CaptchaImage)
		return
	case "/check/QRCode.do":
		if query.Get("data") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(CaptchaImage)
		return
	case "/api/StudentLogin.do":
		if str("verifyCode") != CaptchaCode {
			reject(w, "1", "验证码错误")
			return
		}
		a, ok := s.accounts[str("studentNo")]
		if !ok || md5hex(a.Password) != str("pwd") {
			reject(w, "2", "用户名或密码错误")
			return
		}
		token := fmt.Sprintf("session-%s-%d", a.StudentID, s.hits[path])
		s.sessions[token] = a.StudentNo
		http.SetCookie(w, &http.Cookie{Name: cookieName, Value: token, Path: "/"})
		// ids come back as numbers
		var id json.Number = json.Number(a.StudentID)
		succeed(w, id)
		return
	case "/api/sendCodeAndStudentNo.do":
		if _, ok := s.accounts[query.Get("studentCode")]; !ok {
			reject(w, "3", "学号不存在")
			return
		}
		succeed(w, nil)
		return
	case "/api/ResetPwd.do":
		a, exists := s.accounts[query.Get("studentCode")]
		if !exists || query.Get("code") != SmsCode || a.Mobile != query.Get("mobile") {
			reject(w, "4", "验证码错误")
			return
		}
		a.Password = "123456"
		succeed(w, nil)
		return
	}

	a := s.account(r)
	if a == nil {
		reject(w, "-1", "请先登录")
		return
	}

	switch path {
	case "/api/GetStudentInfo.do":
		if str("studentID") != a.StudentID {
			succeed(w, []any{})
			return
		}
		succeed(w, []any{s.studentJSON(a)})
	case "/api/GetBookList.do":
		books := []map[string]any{}
		for _, b := range s.books {
			books = append(books, map[string]any{
				"bookID":    b.BookID,
				"bookName":  b.BookName,
				"course":    b.Course,
				"courseNo":  b.CourseNo,
				"classNo":   b.ClassNo,
				"teacher":   b.Teacher,
				"price":     fmt.Sprintf("%.2f", b.Price),
				"realPrice": b.RealPrice,
				"stock":     b.Stock,
			})
		}
		succeed(w, books)
	case "/api/BuildOrder.do":
		lines, _ := body["books"].([]any)
		if len(lines) == 0 {
			reject(w, "5", "请选择教材")
			return
		}
		o := &order{studentID: a.StudentID, status: "未支付"}
		for _, line := range lines {
			m, _ := line.(map[string]any)
			for _, b := range s.books {
				if b.BookID == m["bookID"] {
					o.books = append(o.books, b)
					o.amount += b.RealPrice
				}
			}
		}
		s.orderSeq++
		o.id = fmt.Sprintf("%d", 202400+s.orderSeq)
		s.orders[o.id] = o
		succeed(w, o.id)
	case "/api/GetOrder.do":
		o, exists := s.orders[str("orderID")]
		if !exists || o.studentID != a.StudentID {
			succeed(w, []any{})
			return
		}
		succeed(w, []any{o.json()})
	case "/api/GetOrderList.do":
		orders := []any{}
		for seq := 1; seq <= s.orderSeq; seq++ {
			o, exists := s.orders[fmt.Sprintf("%d", 202400+seq)]
			if exists && o.studentID == a.StudentID {
				orders = append(orders, o.json())
			}
		}
		succeed(w, orders)
	case "/api/AbortOrder.do":
		o, exists := s.orders[str("orderID")]
		if !exists || o.paid {
			reject(w, "6", "订单无法取消")
			return
		}
		delete(s.orders, o.id)
		succeed(w, nil)
	case "/pay/getalipayurl.do", "/wxPay/getWxPayUrl.do":
		o, exists := s.orders[query.Get("order_id")]
		if !exists {
			writeJSON(w, map[string]any{"ok": false, "message": ""})
			return
		}
		provider := "alipay"
		if strings.HasPrefix(path, "/wxPay") {
			provider = "weixin"
		}
		writeJSON(w, map[string]any{
			"ok":      true,
			"message": fmt.Sprintf("https://pay.example/%s?order=%s&amount=%s", provider, o.id, query.Get("order_amount")),
		})
	case "/api/sendCode.do":
		succeed(w, nil)
	case "/api/bindPhone.do":
		if query.Get("code") != SmsCode {
			reject(w, "7", "验证码错误")
			return
		}
		a.Mobile = query.Get("mobile")
		succeed(w, nil)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}
