package xinhua

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// the platform is inconsistent about whether ids and amounts are strings
// or numbers, these accept both.

type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		err := json.Unmarshal(b, &s)
		*f = flexString(s)
		return err
	}
	*f = flexString(b)
	return nil
}

type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	var s flexString
	err := s.UnmarshalJSON(b)
	if err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(string(s)), 64)
	if err != nil {
		return err
	}
	*f = flexFloat(parsed)
	return nil
}

type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	var s flexString
	err := s.UnmarshalJSON(b)
	if err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(string(s))) {
	case "true", "1", "y", "yes":
		*f = true
	default:
		*f = false
	}
	return nil
}

// Student is the profile returned by GetStudentInfo.do. Fields the client
// does not use are kept in Extra so the profile can be written back out
// unchanged.
type Student struct {
	StudentID   string
	StudentNo   string
	StudentName string
	Mobile      string
	Extra       map[string]json.RawMessage
}

var studentKeys = []string{"studentID", "studentNo", "studentName", "mobile"}

func (s *Student) fields() []*string {
	return []*string{&s.StudentID, &s.StudentNo, &s.StudentName, &s.Mobile}
}

func (s *Student) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	err := json.Unmarshal(b, &raw)
	if err != nil {
		return err
	}

	*s = Student{}
	fields := s.fields()
	for i, key := range studentKeys {
		value, ok := raw[key]
		if !ok {
			continue
		}
		var str flexString
		err = str.UnmarshalJSON(value)
		if err != nil {
			return err
		}
		*fields[i] = string(str)
		delete(raw, key)
	}
	if len(raw) > 0 {
		s.Extra = raw
	}
	return nil
}

func (s Student) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+len(studentKeys))
	for k, v := range s.Extra {
		out[k] = v
	}
	for i, key := range studentKeys {
		out[key] = *s.fields()[i]
	}
	return json.Marshal(out)
}

type Book struct {
	BookID    string  `json:"bookID"`
	BookName  string  `json:"bookName"`
	Course    string  `json:"course"`
	CourseNo  string  `json:"courseNo"`
	ClassNo   string  `json:"classNo"`
	Teacher   string  `json:"teacher"`
	Price     float64 `json:"price"`
	RealPrice float64 `json:"realPrice"`
	Stock     float64 `json:"stock"`
}

func (b *Book) UnmarshalJSON(data []byte) error {
	var wire struct {
		BookID    flexString `json:"bookID"`
		BookName  flexString `json:"bookName"`
		Course    flexString `json:"course"`
		CourseNo  flexString `json:"courseNo"`
		ClassNo   flexString `json:"classNo"`
		Teacher   flexString `json:"teacher"`
		Price     flexFloat  `json:"price"`
		RealPrice flexFloat  `json:"realPrice"`
		Stock     flexFloat  `json:"stock"`
	}
	err := json.Unmarshal(data, &wire)
	if err != nil {
		return err
	}
	*b = Book{
		BookID:    string(wire.BookID),
		BookName:  string(wire.BookName),
		Course:    string(wire.Course),
		CourseNo:  string(wire.CourseNo),
		ClassNo:   string(wire.ClassNo),
		Teacher:   string(wire.Teacher),
		Price:     float64(wire.Price),
		RealPrice: float64(wire.RealPrice),
		Stock:     float64(wire.Stock),
	}
	return nil
}

const (
	StatusUnpaid = "未支付"
	StatusPaid   = "已支付"
)

type OrderDetail struct {
	BookName       string  `json:"bookName"`
	Amount         float64 `json:"amount"`
	OrderNum       float64 `json:"orderNum"`
	PayStatusName  string  `json:"payStatusName"`
	SendStatusName string  `json:"sendStatusName"`
}

func (d *OrderDetail) UnmarshalJSON(data []byte) error {
	var wire struct {
		BookName       flexString `json:"bookName"`
		Amount         flexFloat  `json:"amount"`
		OrderNum       flexFloat  `json:"orderNum"`
		PayStatusName  flexString `json:"payStatusName"`
		SendStatusName flexString `json:"sendStatusName"`
	}
	err := json.Unmarshal(data, &wire)
	if err != nil {
		return err
	}
	*d = OrderDetail{
		BookName:       string(wire.BookName),
		Amount:         float64(wire.Amount),
		OrderNum:       float64(wire.OrderNum),
		PayStatusName:  string(wire.PayStatusName),
		SendStatusName: string(wire.SendStatusName),
	}
	return nil
}

type Order struct {
	OrderID   string        `json:"orderID"`
	Amount    float64       `json:"amount"`
	Status    string        `json:"status"`
	OrderDate string        `json:"orderDate"`
	PayType   string        `json:"payType"`
	Paid      bool          `json:"paid"`
	PayAmount float64       `json:"payAmount"`
	Details   []OrderDetail `json:"orderDetails"`
}

func (o *Order) UnmarshalJSON(data []byte) error {
	var wire struct {
		OrderID   flexString    `json:"orderID"`
		Amount    flexFloat     `json:"amount"`
		Status    flexString    `json:"status"`
		OrderDate flexString    `json:"orderDate"`
		PayType   flexString    `json:"payType"`
		Paid      flexBool      `json:"paid"`
		PayAmount flexFloat     `json:"payAmount"`
		Details   []OrderDetail `json:"orderDetails"`
	}
	err := json.Unmarshal(data, &wire)
	if err != nil {
		return err
	}
	*o = Order{
		OrderID:   string(wire.OrderID),
		Amount:    float64(wire.Amount),
		Status:    string(wire.Status),
		OrderDate: string(wire.OrderDate),
		PayType:   string(wire.PayType),
		Paid:      bool(wire.Paid),
		PayAmount: float64(wire.PayAmount),
		Details:   wire.Details,
	}
	return nil
}

// Settled reports whether the platform considers the order paid.
func (o Order) Settled() bool {
	return o.Paid || o.Status == StatusPaid
}
