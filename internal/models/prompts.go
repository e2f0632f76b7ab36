package models

const (
	ContextSeparator = "\n---\n"

	RAGSystemPrompt = "You are an assistant that answers using the user's stored records. " +
		"Answer only from the information provided."

	RAGContextPrefix = "context:\n"

	GenerateSystemPrompt = "You are an assistant for question-answering tasks. " +
		"Use the following pieces of retrieved context to answer " +
		"the question. If you don't know the answer, say that you " +
		"don't know. Use three sentences maximum and keep the " +
		"answer concise."

	RetrieveToolName        = "retrieve"
	RetrieveToolDescription = "Retrieve information related to a query."
)

var (
	ContextPromptTemplate = `<document>
%s
</document>
Here is the chunk we want to situate within the whole document
<chunk>
%s
</chunk>
Please give a short succinct context to situate this chunk within the overall document for the purposes of improving search retrieval of the chunk. Answer only with the succinct context and nothing else.
`
)
