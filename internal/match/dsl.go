package match

// StringMatcher matches strings by type, or equal to example under exact
// fidelity.
func StringMatcher(example string) Matcher {
	return Matcher{KeyKind: string(KindString), "example": example}
}

// NumberMatcher matches numbers by type, or equal to example under exact
// fidelity.
func NumberMatcher(example float64) Matcher {
	return Matcher{KeyKind: string(KindNumber), "example": example}
}

// BooleanMatcher matches booleans by type, or equal to example under exact
// fidelity.
func BooleanMatcher(example bool) Matcher {
	return Matcher{KeyKind: string(KindBoolean), "example": example}
}

// AnyString matches any string. The example is used when stripping.
func AnyString(example string) Matcher {
	return ShapedLike(StringMatcher(example))
}

// AnyNumber matches any number.
func AnyNumber(example float64) Matcher {
	return ShapedLike(NumberMatcher(example))
}

// AnyBoolean matches any boolean.
func AnyBoolean(example bool) Matcher {
	return ShapedLike(BooleanMatcher(example))
}

// AnyNull matches null.
func AnyNull() Matcher {
	return Matcher{KeyKind: string(KindNull)}
}

// ShapedLike checks child, and everything below it, by type.
func ShapedLike(child any) Matcher {
	return Matcher{KeyKind: string(KindCascadingType), "child": child}
}

// Exactly checks child, and everything below it, by value.
func Exactly(child any) Matcher {
	return Matcher{KeyKind: string(KindCascadingExact), "child": child}
}

// StringContaining matches strings that contain substring.
func StringContaining(substring, example string) Matcher {
	return Matcher{KeyKind: string(KindStringContains), "substring": substring, "example": example}
}

// StringPrefix matches strings starting with prefix whose remainder
// matches suffix. A nil suffix accepts any remainder.
func StringPrefix(prefix string, suffix any) Matcher {
	if suffix == nil {
		suffix = AnyString("")
	}
	return Matcher{KeyKind: string(KindStringPrefix), "prefix": prefix, "suffix": suffix}
}

// StringSuffix matches strings ending with suffix whose beginning matches
// prefix. A nil prefix accepts any beginning.
func StringSuffix(prefix any, suffix string) Matcher {
	if prefix == nil {
		prefix = AnyString("")
	}
	return Matcher{KeyKind: string(KindStringSuffix), "prefix": prefix, "suffix": suffix}
}

// Base64Encoded matches base64 strings whose decoded text matches child.
func Base64Encoded(child any) Matcher {
	return Matcher{KeyKind: string(KindBase64), "child": child}
}

// StringifiedJSON matches strings whose parsed JSON matches child.
func StringifiedJSON(child any) Matcher {
	return Matcher{KeyKind: string(KindJSONStringified), "child": child}
}

// Named saves child under name so later Lookup nodes can refer to it.
func Named(name string, child any) Matcher {
	return Matcher{KeyKind: string(KindLookup), "name": name, "child": child}
}

// Lookup refers to a matcher saved with Named.
func Lookup(name string) Matcher {
	return Matcher{KeyKind: string(KindLookup), "name": name}
}

// StateVariable refers to a provider-state variable.
func StateVariable(name string) Matcher {
	return Matcher{KeyKind: string(KindStateVariable), "name": name}
}

// And requires every child to match.
func And(children ...any) Matcher {
	return Matcher{KeyKind: string(KindAnd), "children": children}
}

// ArrayEach matches arrays of at least minimum entries where every entry
// matches child.
func ArrayEach(child any, minimum int) Matcher {
	return Matcher{KeyKind: string(KindArrayEach), "child": child, "min": minimum}
}
