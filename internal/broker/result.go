package broker

import "fmt"

// OrderOperationResult 是所有变更类操作的统一返回。
// Active/Executed/Canceled/Error 为订单 id 列表，未知 id 记入 Error；Volume 为调用结束时 deal 的数量。
type OrderOperationResult struct {
	Orders        []Order  `json:"orders"`
	ErrorMessages []string `json:"error_messages"`
	Active        []int64  `json:"active"`
	Executed      []int64  `json:"executed"`
	Canceled      []int64  `json:"canceled"`
	Error         []int64  `json:"error"`
	DealID        int64    `json:"deal_id"`
	Volume        float64  `json:"volume"`

	// Err 是首个校验错误，供调用方用 errors.Is 判断。
	Err error `json:"-"`
}

func (r OrderOperationResult) OK() bool {
	return r.Err == nil && len(r.ErrorMessages) == 0
}

type resultBuilder struct {
	orders  []*Order
	seen    map[int64]bool
	missing []int64
	msgs    []string
	err     error
}

func newResult() *resultBuilder {
	return &resultBuilder{seen: make(map[int64]bool)}
}

func (rb *resultBuilder) add(o *Order) {
	if o == nil || rb.seen[o.ID] {
		return
	}
	rb.seen[o.ID] = true
	rb.orders = append(rb.orders, o)
}

func (rb *resultBuilder) fail(err error) {
	if rb.err == nil {
		rb.err = err
	}
	rb.msgs = append(rb.msgs, err.Error())
}

func (rb *resultBuilder) unknownOrder(op string, id int64) {
	rb.missing = append(rb.missing, id)
	rb.fail(invalid(op, ErrUnknownOrder, "order %d not found", id))
}

// build 在操作结束后按订单的最终状态归类。
func (rb *resultBuilder) build(d *Deal) OrderOperationResult {
	res := OrderOperationResult{
		Orders:        make([]Order, 0, len(rb.orders)),
		ErrorMessages: rb.msgs,
		Err:           rb.err,
	}
	for _, o := range rb.orders {
		res.Orders = append(res.Orders, *o)
		switch o.Status {
		case StatusActive:
			res.Active = append(res.Active, o.ID)
		case StatusExecuted:
			res.Executed = append(res.Executed, o.ID)
		case StatusCanceled:
			res.Canceled = append(res.Canceled, o.ID)
		case StatusError:
			res.Error = append(res.Error, o.ID)
			if o.Message != "" {
				res.ErrorMessages = append(res.ErrorMessages, fmt.Sprintf("order %d: %s", o.ID, o.Message))
			}
		}
	}
	res.Error = append(res.Error, rb.missing...)
	if d != nil {
		res.DealID = d.ID
		res.Volume = d.Quantity
	}
	return res
}
