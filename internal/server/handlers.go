package server

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kazandb/kazandb/internal/resp"
	"github.com/kazandb/kazandb/internal/storage"
)

var (
	replyOK   = resp.MakeSimpleString("OK")
	replyPong = resp.MakeSimpleString("PONG")
)

// ping returns PONG, or a copy of the argument as a bulk string
func ping(ctx *commandContext) resp.Value {
	switch len(ctx.args) {
	case 0:
		return replyPong
	case 1:
		return resp.MakeBulkBytes(ctx.args[0].String)
	default:
		return resp.MakeErrorWrongNumberOfArguments("ping")
	}
}

func echo(ctx *commandContext) resp.Value {
	return resp.MakeBulkBytes(ctx.args[0].String)
}

func get(ctx *commandContext) resp.Value {
	val, found := ctx.storage.Get(ctx.arg(0))
	if !found {
		return resp.MakeNilBulkString()
	}

	return resp.MakeBulkString(val)
}

// set SET key value [NX | XX] [EX seconds | PX milliseconds | EXAT unix-time-seconds | PXAT unix-time-milliseconds | KEEPTTL]
func set(ctx *commandContext) resp.Value {
	key := ctx.arg(0)
	value := ctx.arg(1)

	var options storage.SetOptions
	ttlSet := false

	for i := 2; i < len(ctx.args); i++ {
		opt := strings.ToUpper(ctx.arg(i))

		switch opt {
		case "NX":
			if options.XX {
				return resp.MakeError("ERR NX cannot use with XX")
			}
			options.NX = true
		case "XX":
			if options.NX {
				return resp.MakeError("ERR XX cannot use with NX")
			}
			options.XX = true
		case "KEEPTTL":
			if ttlSet {
				return resp.MakeError("ERR TTL already specified")
			}
			options.KeepTTL = true
			ttlSet = true
		case "EX", "PX", "EXAT", "PXAT":
			if ttlSet {
				return resp.MakeError("ERR TTL already specified")
			}
			if i+1 >= len(ctx.args) {
				return resp.MakeError("ERR syntax error")
			}
			i++

			n, err := strconv.ParseInt(ctx.arg(i), 10, 64)
			if err != nil {
				return resp.MakeError("ERR value TTL is not integer")
			}

			ttl, valid := expireIn(opt, n)
			if !valid {
				return resp.MakeError("ERR invalid expire time in 'set' command")
			}
			options.TTL = ttl
			ttlSet = true
		default:
			return resp.MakeError("ERR syntax error")
		}
	}

	if !ctx.storage.Set(key, value, options) {
		return resp.MakeNilBulkString()
	}

	return replyOK
}

// setnx SETNX key value, replies 1 when the key was written
func setnx(ctx *commandContext) resp.Value {
	if !ctx.storage.Set(ctx.arg(0), ctx.arg(1), storage.SetOptions{NX: true}) {
		return resp.MakeInteger(0)
	}
	return resp.MakeInteger(1)
}

// expireIn converts a SET expiration argument into a relative TTL.
// A deadline already in the past yields a negative TTL, the key is then written already expired
func expireIn(unit string, n int64) (time.Duration, bool) {
	if n <= 0 {
		return 0, false
	}

	switch unit {
	case "EX":
		if n > math.MaxInt64/int64(time.Second) {
			return 0, false
		}
		return time.Duration(n) * time.Second, true
	case "PX":
		if n > math.MaxInt64/int64(time.Millisecond) {
			return 0, false
		}
		return time.Duration(n) * time.Millisecond, true
	case "EXAT":
		if n > math.MaxInt64/int64(time.Second) {
			return 0, false
		}
		return nonZero(time.Until(time.Unix(n, 0))), true
	default: // PXAT
		return nonZero(time.Until(time.UnixMilli(n))), true
	}
}

// nonZero keeps a deadline that is due right now from being read as "no TTL"
func nonZero(d time.Duration) time.Duration {
	if d == 0 {
		return -time.Nanosecond
	}
	return d
}

// del DEL key [key ...]
func del(ctx *commandContext) resp.Value {
	var deleted int64
	for i := range ctx.args {
		if ctx.storage.Delete(ctx.arg(i)) {
			deleted++
		}
	}

	return resp.MakeInteger(deleted)
}

// exists EXISTS key [key ...], a key mentioned twice is counted twice
func exists(ctx *commandContext) resp.Value {
	var n int64
	for i := range ctx.args {
		if ctx.storage.Exists(ctx.arg(i)) {
			n++
		}
	}

	return resp.MakeInteger(n)
}

func ttl(ctx *commandContext) resp.Value {
	d, status := ctx.storage.Expiry(ctx.arg(0))
	if status != storage.ExpActive {
		return resp.MakeInteger(int64(status))
	}

	// rounded to the nearest second
	return resp.MakeInteger(int64((d + 500*time.Millisecond) / time.Second))
}

func pttl(ctx *commandContext) resp.Value {
	d, status := ctx.storage.Expiry(ctx.arg(0))
	if status != storage.ExpActive {
		return resp.MakeInteger(int64(status))
	}

	return resp.MakeInteger(d.Milliseconds())
}

func persist(ctx *commandContext) resp.Value {
	return resp.MakeInteger(ctx.storage.Persist(ctx.arg(0)))
}

func dbsize(ctx *commandContext) resp.Value {
	return resp.MakeInteger(int64(ctx.storage.Len()))
}

// cmd COMMAND [COUNT | DOCS [command-name ...]]
func cmd(ctx *commandContext) resp.Value {
	if len(ctx.args) == 0 {
		return getAllCommands()
	}

	sub := strings.ToUpper(ctx.arg(0))
	switch sub {
	case "COUNT":
		if len(ctx.args) != 1 {
			return resp.MakeErrorWrongNumberOfArguments("command|count")
		}
		return resp.MakeInteger(int64(len(commandRegistry)))
	case "DOCS":
		return getCommandsDocs(ctx.args[1:])
	default:
		return resp.MakeErrorf("ERR unknown subcommand '%s'. Try COMMAND HELP.", ctx.arg(0))
	}
}
