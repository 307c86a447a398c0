package userq

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sarchlab/gpuprobe/amdgpu"
)

// List parses the kernel's user-queue dump. A "queue N:" line opens a
// stanza and the key/value lines that follow fill it until the next
// header. Keys this parser does not know are skipped, so dumps from
// newer kernels still load.
func List(r io.Reader) ([]Queue, error) {
	sc := bufio.NewScanner(r)

	var (
		queues []Queue
		cur    *Queue
		line   int
	)

	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}

		if rest, ok := strings.CutPrefix(text, "queue "); ok &&
			strings.HasSuffix(rest, ":") {
			id, err := strconv.Atoi(strings.TrimSuffix(rest, ":"))
			if err != nil {
				return nil, fmt.Errorf(
					"userq dump line %d: bad queue id in %q", line, text)
			}

			queues = append(queues, Queue{ID: id})
			cur = &queues[len(queues)-1]
			continue
		}

		key, value, ok := strings.Cut(text, ":")
		if !ok {
			return nil, fmt.Errorf(
				"userq dump line %d: %q is neither a header nor a field",
				line, text)
		}
		if cur == nil {
			return nil, fmt.Errorf(
				"userq dump line %d: field %q outside a queue stanza",
				line, key)
		}

		err := setField(cur, strings.TrimSpace(key), strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("userq dump line %d: %w", line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	return queues, nil
}

// numericFields maps a dump key to the queue field it fills. Values
// parse with strconv base 0, so the dump may write hex or decimal.
var numericFields = map[string]func(*Queue, uint64){
	"ring_base":       func(q *Queue, v uint64) { q.RingBase = v },
	"ring_size":       func(q *Queue, v uint64) { q.RingSize = v },
	"rptr_addr":       func(q *Queue, v uint64) { q.RptrAddr = v },
	"wptr_addr":       func(q *Queue, v uint64) { q.WptrAddr = v },
	"doorbell":        func(q *Queue, v uint64) { q.Doorbell = v },
	"mqd":             func(q *Queue, v uint64) { q.MQDAddr = v },
	"page_table_base": func(q *Queue, v uint64) { q.PageTableBase = v },
	"va_start":        func(q *Queue, v uint64) { q.VAStart = v },
	"va_end":          func(q *Queue, v uint64) { q.VAEnd = v },
	"depth":           func(q *Queue, v uint64) { q.Depth = int(v) },
	"block_size":      func(q *Queue, v uint64) { q.BlockSize = uint32(v) },
}

func setField(q *Queue, key, value string) error {
	switch key {
	case "process":
		pid, name, err := splitProcess(value)
		if err != nil {
			return err
		}
		q.PID, q.Process = pid, name
		return nil

	case "hub":
		h, err := amdgpu.ParseHub(value)
		if err != nil {
			return err
		}
		q.Hub = h
		return nil

	case "type":
		t, err := ParseQueueType(value)
		if err != nil {
			return err
		}
		q.Type = t
		return nil
	}

	set, known := numericFields[key]
	if !known {
		return nil
	}

	n, err := strconv.ParseUint(value, 0, 64)
	if err != nil {
		return fmt.Errorf("bad %s value %q", key, value)
	}
	set(q, n)

	return nil
}

// splitProcess takes the "1234 (name)" form; the name part is
// optional.
func splitProcess(value string) (int, string, error) {
	pidStr, name, _ := strings.Cut(value, " ")

	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, "", fmt.Errorf("bad process value %q", value)
	}

	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "(")
	name = strings.TrimSuffix(name, ")")

	return pid, name, nil
}
