// Command grove manages the models of a grove deployment: schema
// validation, reindexing, ad hoc finders and the DynamoDB stream handler.
package main

func main() {
	Execute()
}
