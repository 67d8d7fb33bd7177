package filter

// Prototype is a filter as stored in a PipelineLayout: unbound, unchained,
// identified by its concrete type alone. A Pipeline instance clones its
// layout's Prototypes in order to get its own Filter instances. The two
// are the same Go type — a Prototype just hasn't had Chain/Bind called on
// it yet — kept as a distinct name because the vocabulary matters for
// anyone reading pipeline.Layout next to spec section 3.2.
type Prototype = Filter
