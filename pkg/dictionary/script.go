package dictionary

import (
	"sync"
	"time"

	"github.com/dop251/goja"
)

// ScriptFailureMessage is reported when a script cannot be evaluated or does
// not yield a result object.
const ScriptFailureMessage = "failed to run script validation, check script and the input"

// scriptTimeout bounds a single script evaluation.
const scriptTimeout = 2 * time.Second

// ScriptResult is the value a validation script must evaluate to.
type ScriptResult struct {
	Valid   bool
	Message string
}

var programCache sync.Map

func compileScript(src string) (*goja.Program, error) {
	if cached, ok := programCache.Load(src); ok {
		return cached.(*goja.Program), nil
	}
	prog, err := goja.Compile("restriction", src, false)
	if err != nil {
		return nil, err
	}
	actual, _ := programCache.LoadOrStore(src, prog)
	return actual.(*goja.Program), nil
}

// runScripts evaluates scripts in order against rec and stops at the first
// invalid result. Each call gets its own runtime.
func runScripts(fieldName string, scripts Scripts, rec TypedRecord) ScriptResult {
	row := toScriptValue(map[string]any(rec))
	result := ScriptResult{}
	for _, src := range scripts {
		res, err := evalScript(src, fieldName, row)
		if err != nil {
			return ScriptResult{Valid: false, Message: ScriptFailureMessage}
		}
		result = res
		if !result.Valid {
			break
		}
	}
	return result
}

func evalScript(src, fieldName string, row any) (res ScriptResult, err error) {
	prog, err := compileScript(src)
	if err != nil {
		return ScriptResult{}, err
	}
	defer func() {
		if r := recover(); r != nil {
			res, err = ScriptResult{}, errNoScriptResult
		}
	}()
	vm := goja.New()
	rowMap, _ := row.(map[string]any)
	if err := vm.Set("$row", rowMap); err != nil {
		return ScriptResult{}, err
	}
	var field any = goja.Undefined()
	if v, ok := rowMap[fieldName]; ok {
		field = v
	}
	if err := vm.Set("$field", field); err != nil {
		return ScriptResult{}, err
	}
	if err := vm.Set("$name", fieldName); err != nil {
		return ScriptResult{}, err
	}
	timer := time.AfterFunc(scriptTimeout, func() { vm.Interrupt("script timeout") })
	defer timer.Stop()

	value, err := vm.RunProgram(prog)
	if err != nil {
		return ScriptResult{}, err
	}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return ScriptResult{}, errNoScriptResult
	}
	obj := value.ToObject(vm)
	valid := obj.Get("valid")
	if valid == nil || goja.IsUndefined(valid) {
		return ScriptResult{}, errNoScriptResult
	}
	res.Valid = valid.ToBoolean()
	if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) && !goja.IsNull(msg) {
		res.Message = msg.String()
	}
	return res, nil
}

type scriptError string

func (e scriptError) Error() string { return string(e) }

const errNoScriptResult = scriptError("script did not evaluate to a result object")

// toScriptValue converts typed slices into generic arrays so scripts see
// plain JavaScript arrays.
func toScriptValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = toScriptValue(item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	case []float64:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	case []bool:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	default:
		return v
	}
}
