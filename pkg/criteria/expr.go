// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package criteria

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// exprEnv is the environment visible to expr rules.
type exprEnv struct {
	Response string `expr:"response"`
	Length   int    `expr:"length"`
	Lines    int    `expr:"lines"`
}

var exprCache sync.Map // expression -> *vm.Program

func compileExpr(expression string) (*vm.Program, error) {
	if expression == "" {
		return nil, fmt.Errorf("expression is empty")
	}
	if prog, ok := exprCache.Load(expression); ok {
		return prog.(*vm.Program), nil
	}

	prog, err := expr.Compile(expression, expr.Env(exprEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", err)
	}
	exprCache.Store(expression, prog)
	return prog, nil
}

func evalExpr(expression, response string) (bool, error) {
	prog, err := compileExpr(expression)
	if err != nil {
		return false, err
	}

	env := exprEnv{
		Response: response,
		Length:   utf8.RuneCountInString(response),
		Lines:    strings.Count(response, "\n") + 1,
	}
	if response == "" {
		env.Lines = 0
	}

	out, err := expr.Run(prog, env)
	if err != nil {
		return false, fmt.Errorf("expression evaluation failed: %w", err)
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("expression must return boolean, got %T", out)
	}
	return ok, nil
}
