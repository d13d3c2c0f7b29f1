package tbtab

import "fmt"

// Language is the source-language code stored in the traceback header.
type Language uint8

const (
	LangC Language = iota
	LangFortran
	LangPascal
	LangAda
	LangPL1
	LangBasic
	LangLisp
	LangCobol
	LangModula2
	LangCPlusPlus
	LangRPG
	LangPL8
	LangAssembly
)

var languageNames = [...]string{
	LangC:         "C",
	LangFortran:   "Fortran",
	LangPascal:    "Pascal",
	LangAda:       "Ada",
	LangPL1:       "PL/I",
	LangBasic:     "BASIC",
	LangLisp:      "LISP",
	LangCobol:     "COBOL",
	LangModula2:   "Modula-2",
	LangCPlusPlus: "C++",
	LangRPG:       "RPG",
	LangPL8:       "PL.8",
	LangAssembly:  "Assembly",
}

// Known reports whether l is one of the enumerated languages.
func (l Language) Known() bool { return int(l) < len(languageNames) }

func (l Language) String() string {
	if l.Known() {
		return languageNames[l]
	}
	return fmt.Sprintf("unknown(%d)", uint8(l))
}

// ParamType is one entry of the decoded parameter-type word.
type ParamType uint8

const (
	ParamFixed ParamType = iota
	ParamSingle
	ParamDouble
)

func (p ParamType) String() string {
	switch p {
	case ParamFixed:
		return "i"
	case ParamSingle:
		return "f"
	case ParamDouble:
		return "d"
	default:
		return "?"
	}
}
