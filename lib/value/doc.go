// Package value defines the tagged value type stored by sKV.
//
// A Value is exactly one of boolean, number or string. Values are immutable
// and cheap to copy. The package also owns the persisted text encoding of a
// Value (Serialize / Parse) and the conversion from dynamically typed values
// coming from an embedding scripting language (FromAny / Any).
//
// Persisted type codes follow the script type enum of the host engine
// (TypeBool = 2, TypeNumber = 4, TypeString = 5) so that databases written by
// earlier builds stay readable.
package value
