package runway

import (
	"sort"
	"strings"
	"time"
)

// request is one plane's claim on a single runway use. Its sort key is fixed
// at insertion; promotion removes it, updates the key and re-inserts it.
type request struct {
	plane        Aircraft
	intent       Intent
	gates        GateChecker
	arrivalSeq   uint64
	emergencySeq uint64 // 0 until the plane declares an emergency
	enqueued     time.Time
}

func (r *request) emergency() bool {
	return r.emergencySeq != 0
}

func (r *request) gatesReporter() (statusReporter, bool) {
	sr, ok := r.gates.(statusReporter)
	return sr, ok
}

// less orders emergencies first (by declaration order), then everything else
// by arrival order.
func (r *request) less(o *request) bool {
	if r.emergency() != o.emergency() {
		return r.emergency()
	}
	if r.emergency() {
		return r.emergencySeq < o.emergencySeq
	}
	return r.arrivalSeq < o.arrivalSeq
}

// waitList is kept sorted by request.less at all times.
type waitList []*request

func (w *waitList) insert(r *request) {
	l := *w
	i := sort.Search(len(l), func(i int) bool { return r.less(l[i]) })
	l = append(l, nil)
	copy(l[i+1:], l[i:])
	l[i] = r
	*w = l
}

func (w *waitList) remove(r *request) bool {
	l := *w
	for i, x := range l {
		if x == r {
			copy(l[i:], l[i+1:])
			l[len(l)-1] = nil
			*w = l[:len(l)-1]
			return true
		}
	}
	return false
}

func (w waitList) head() *request {
	if len(w) == 0 {
		return nil
	}
	return w[0]
}

func (w waitList) summary() string {
	if len(w) == 0 {
		return "none"
	}
	var sb strings.Builder
	for i, r := range w {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(r.plane.Name())
		if r.emergency() {
			sb.WriteString("(E)")
		}
	}
	return sb.String()
}
